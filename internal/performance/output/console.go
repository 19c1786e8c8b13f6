// Package output renders live progress and the end-of-run summary of a load
// run to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/wesleyorama2/rpzload/internal/performance/executor"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// palette holds the colors used by the console output.
type palette struct {
	header  *color.Color
	bold    *color.Color
	dim     *color.Color
	value   *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	latency *color.Color
	phase   *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		header:  color.New(color.FgCyan),
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		value:   color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		latency: color.New(color.FgBlue),
		phase:   color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.header, p.bold, p.dim, p.value, p.good, p.warn, p.bad, p.latency, p.phase} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rateColor picks the color for an error rate.
func (p *palette) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return p.bad
	case errorRate > 0.01:
		return p.warn
	default:
		return p.good
	}
}

// LiveStats is one frame of the live progress display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleOutput manages live console output during a run.
type ConsoleOutput struct {
	testName string
	target   string
	writer   io.Writer
	isTTY    bool
	quiet    bool
	colors   *palette

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig selects the writer and overrides terminal detection.
type ConsoleOutputConfig struct {
	TestName    string
	Target      string
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput writes to cfg.Writer, or stdout when nil.
func NewConsoleOutput(cfg ConsoleOutputConfig) *ConsoleOutput {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)
	useColors := cfg.ForceColors || (isTTY && supportsColors())

	return &ConsoleOutput{
		testName: cfg.TestName,
		target:   cfg.Target,
		writer:   cfg.Writer,
		isTTY:    isTTY,
		quiet:    cfg.Quiet,
		colors:   newPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		return checkIsTerminal(f)
	}
	return false
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return !color.NoColor
}

// IsTTY reports whether Update can redraw in place.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	title := c.testName
	if title == "" {
		title = "rpzload"
	}

	c.writeln(c.colors.header.Sprint(line))
	c.writeln(c.colors.bold.Sprintf("%s - Running", title))
	if c.target != "" {
		c.writeln(c.colors.dim.Sprint("target: " + c.target))
	}
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")
}

// Update redraws the live display in place. It only draws on a terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a one-line status, for output that is
// piped to a file or a CI log.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.colors
	var lines []string

	bar := renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.good.Sprint(bar),
		p.bold.Sprintf("%.0f%%", stats.Progress*100),
		p.dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, "Stage:    "+p.phase.Sprint(phaseInfo))
	lines = append(lines, "")

	const boxWidth = 56
	lines = append(lines, p.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", p.value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqs := "Requests:    " + p.value.Sprint(formatNumber(stats.TotalRequests))
	lines = append(lines, c.formatBoxRow(vus, reqs, boxWidth))

	errColor := p.rateColor(stats.ErrorRate)
	rps := "RPS:     " + p.good.Sprintf("%.1f", stats.CurrentRPS)
	errs := fmt.Sprintf("Errors:      %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rps, errs, boxWidth))

	p95 := "P95:     " + p.latency.Sprint(formatDurationShort(stats.LatencyP95))
	avg := "Avg:         " + p.latency.Sprint(formatDurationShort(stats.LatencyAvg))
	lines = append(lines, c.formatBoxRow(p95, avg, boxWidth))

	lines = append(lines, p.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow lays out two columns inside the stats box.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 6) / 2
	border := c.colors.dim.Sprint(boxVertical)

	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, padding(left, colWidth),
		border,
		right, padding(right, colWidth),
		border)
}

func padding(s string, width int) string {
	n := width - utf8.RuneCountInString(stripANSI(s))
	if n < 0 {
		n = 0
	}
	return strings.Repeat(" ", n)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromEngine builds the live view from a metrics snapshot and the
// executor statistics. Either may be nil early in the run.
func StatsFromEngine(snapshot *metrics.Snapshot, stats *executor.Stats, progress float64) *LiveStats {
	ls := &LiveStats{
		Progress:     progress,
		CurrentPhase: string(metrics.PhaseInit),
	}

	var totalDuration time.Duration
	if stats != nil {
		ls.TargetVUs = stats.TargetVUs
		ls.CurrentStage = stats.CurrentStage + 1
		ls.TotalStages = stats.TotalStages
		if ls.CurrentStage > ls.TotalStages {
			ls.CurrentStage = ls.TotalStages
		}
		totalDuration = stats.TotalDuration
	}

	if snapshot == nil {
		return ls
	}

	ls.Elapsed = snapshot.Elapsed
	ls.ActiveVUs = snapshot.ActiveVUs
	ls.CurrentRPS = snapshot.RPS
	ls.TotalRequests = snapshot.TotalRequests
	ls.Errors = snapshot.FailedRequests
	ls.ErrorRate = snapshot.ErrorRate
	ls.LatencyP95 = snapshot.Latency.P95
	ls.LatencyAvg = snapshot.Latency.Mean
	ls.CurrentPhase = string(snapshot.CurrentPhase)

	switch {
	case progress > 0 && progress < 1:
		ls.Remaining = time.Duration(float64(ls.Elapsed) * (1 - progress) / progress)
	case totalDuration > ls.Elapsed:
		ls.Remaining = totalDuration - ls.Elapsed
	}
	return ls
}

// formatDuration formats a wall-clock duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats n with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	sign := ""
	if n < 0 {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var b strings.Builder
	b.WriteString(sign)
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

// stripANSI removes ANSI escape sequences.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
