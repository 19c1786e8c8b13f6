package output

import (
	"os"

	"github.com/mattn/go-isatty"
)

// checkIsTerminal reports whether f is an interactive terminal that can
// take cursor movement. Cygwin and MSYS ptys count as terminals.
func checkIsTerminal(f *os.File) bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
