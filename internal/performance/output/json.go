package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wesleyorama2/rpzload/internal/performance/engine"
)

// WriteJSON encodes the full run result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return fmt.Errorf("no results to export")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// WriteJSONFile writes the run result to path, creating parent
// directories. A path of "-" writes to stdout.
func WriteJSONFile(path string, result *engine.TestResult) error {
	if path == "-" {
		return WriteJSON(os.Stdout, result)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return f.Close()
}
