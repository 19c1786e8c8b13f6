package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/rpzload/internal/performance/engine"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
	"github.com/wesleyorama2/rpzload/internal/performance/threshold"
)

const (
	successIcon = "✓"
	failureIcon = "✗"
)

// PrintSummary prints the end-of-run summary: thresholds with value and
// bound, checks, and the statistics of every metric series.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	if c.quiet {
		c.writeln(c.verdict(result))
		for _, t := range result.Thresholds {
			if !t.Passed {
				c.writeln(fmt.Sprintf("  %s %s %s: %s", c.colors.bad.Sprint(failureIcon), t.Metric, t.Expression, t.Message))
			}
		}
		return
	}

	line := strings.Repeat(boxHorizontal, 56)
	name := result.Name
	if name == "" {
		name = "rpzload"
	}

	c.writeln("")
	c.writeln(c.colors.header.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.bold.Sprint(name), c.verdict(result)))
	c.writeln(c.colors.header.Sprint(line))
	c.writeln("")

	if result.Target != "" {
		c.writeln("Target:        " + result.Target)
	}
	if result.RunID != "" {
		c.writeln("Run ID:        " + c.colors.dim.Sprint(result.RunID))
	}
	c.writeln(fmt.Sprintf("Duration:      %s %s",
		c.colors.value.Sprint(formatDuration(result.Duration)),
		c.colors.dim.Sprintf("(setup %s)", formatDuration(result.SetupDuration))))
	if result.Metrics != nil {
		c.writeln("Total Reqs:    " + c.colors.value.Sprint(formatNumber(result.Metrics.TotalRequests)))
	}
	if result.Executor != nil && result.Executor.ForcedStops > 0 {
		c.writeln("Forced Stops:  " + c.colors.warn.Sprint(result.Executor.ForcedStops))
	}
	if result.LateRecords > 0 {
		c.writeln("Late Records:  " + c.colors.warn.Sprint(result.LateRecords))
	}
	if result.Error != "" {
		c.writeln("Error:         " + c.colors.bad.Sprint(result.Error))
	}
	c.writeln("")

	c.printThresholds(result.Thresholds)
	c.printChecks(result.Checks)
	c.printMetrics(result.Summary)
}

func (c *ConsoleOutput) verdict(result *engine.TestResult) string {
	var s string
	switch {
	case result.Error != "":
		s = c.colors.bad.Sprint("ERROR " + failureIcon)
	case result.Passed:
		s = c.colors.good.Sprint("PASSED " + successIcon)
	default:
		s = c.colors.bad.Sprint("FAILED " + failureIcon)
	}
	if result.Interrupted {
		s += " " + c.colors.warn.Sprint("(interrupted)")
	}
	return s
}

func (c *ConsoleOutput) icon(passed bool) string {
	if passed {
		return c.colors.good.Sprint(successIcon)
	}
	return c.colors.bad.Sprint(failureIcon)
}

func (c *ConsoleOutput) printThresholds(results []threshold.Result) {
	if len(results) == 0 {
		return
	}

	metricWidth, exprWidth := 0, 0
	for _, t := range results {
		metricWidth = max(metricWidth, len(t.Metric))
		exprWidth = max(exprWidth, len(t.Expression))
	}

	c.writeln(c.colors.bold.Sprint("Thresholds:"))
	for _, t := range results {
		detail := t.Message
		switch t.Reason {
		case threshold.ReasonInsufficientData:
			detail = c.colors.warn.Sprint("insufficient data")
		case threshold.ReasonUnsupported:
			detail = c.colors.warn.Sprint(t.Message)
		case threshold.ReasonFailed:
			detail = c.colors.bad.Sprint(t.Message)
		}
		c.writeln(fmt.Sprintf("  %s %-*s %-*s  %s",
			c.icon(t.Passed), metricWidth, t.Metric, exprWidth, t.Expression, detail))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printChecks(checks []metrics.CheckStats) {
	if len(checks) == 0 {
		return
	}

	width := 0
	for _, cs := range checks {
		width = max(width, len(cs.Name))
	}

	c.writeln(c.colors.bold.Sprint("Checks:"))
	for _, cs := range checks {
		total := cs.Passes + cs.Fails
		pct := 0.0
		if total > 0 {
			pct = float64(cs.Passes) / float64(total) * 100
		}
		c.writeln(fmt.Sprintf("  %s %-*s %7.2f%%  %s %s  %s %s",
			c.icon(cs.Fails == 0), width, cs.Name, pct,
			successIcon, formatNumber(cs.Passes),
			failureIcon, formatNumber(cs.Fails)))
	}
	c.writeln("")
}

func (c *ConsoleOutput) printMetrics(summary []metrics.MetricSummary) {
	var rows []metrics.MetricSummary
	width := 0
	for _, m := range summary {
		// per-check submetrics are shown under Checks
		if strings.Contains(m.Name, "{") {
			continue
		}
		rows = append(rows, m)
		width = max(width, len(m.Name))
	}
	if len(rows) == 0 {
		return
	}

	c.writeln(c.colors.bold.Sprint("Metrics:"))
	for _, m := range rows {
		label := m.Name + strings.Repeat(".", width-len(m.Name)+3) + ":"
		c.writeln("  " + label + " " + formatMetric(m))
	}
	c.writeln("")
}

// formatMetric renders the statistics of one series on a single line.
func formatMetric(m metrics.MetricSummary) string {
	switch {
	case m.Trend != nil:
		t := m.Trend
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
			formatMillis(t.Avg), formatMillis(t.Min), formatMillis(t.Med), formatMillis(t.Max),
			formatMillis(t.P90), formatMillis(t.P95), formatMillis(t.P99))
	case m.Rate != nil:
		r := m.Rate
		if r.NoData {
			return "no data"
		}
		return fmt.Sprintf("%.2f%%  %s %s  %s %s",
			r.Rate*100,
			successIcon, formatNumber(r.NonZero),
			failureIcon, formatNumber(r.Total-r.NonZero))
	case m.Counter != nil:
		return fmt.Sprintf("%s  %.2f/s", formatNumber(int64(m.Counter.Count)), m.Counter.Rate)
	default:
		return "no data"
	}
}

// formatMillis formats a trend value recorded in milliseconds.
func formatMillis(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", ms)
	default:
		return fmt.Sprintf("%.2fs", ms/1000)
	}
}
