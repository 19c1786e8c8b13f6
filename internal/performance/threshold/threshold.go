// Package threshold parses pass/fail criteria and evaluates them against
// the frozen metric series of a run.
//
// Two expression forms are accepted:
//
//	p(95)<500      k6 form, trend bounds in milliseconds
//	p95 < 500ms    duration literal, converted to milliseconds
//
// Supported statistics are avg, min, max, med, p(N)/pN, count and rate.
// Rate bounds may be written as fractions (0.01) or percentages (1%).
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Stat is the statistic a criterion is computed from.
type Stat string

const (
	StatAvg        Stat = "avg"
	StatMin        Stat = "min"
	StatMax        Stat = "max"
	StatMed        Stat = "med"
	StatPercentile Stat = "p"
	StatCount      Stat = "count"
	StatRate       Stat = "rate"
)

// Operator compares a statistic with its bound.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare reports whether actual op bound holds.
func (o Operator) Compare(actual, bound float64) bool {
	switch o {
	case OpLess:
		return actual < bound
	case OpLessEqual:
		return actual <= bound
	case OpGreater:
		return actual > bound
	case OpGreaterEqual:
		return actual >= bound
	case OpEqual:
		return actual == bound
	case OpNotEqual:
		return actual != bound
	default:
		return false
	}
}

// Criterion is one parsed threshold expression.
type Criterion struct {
	Expression string   `json:"expression"`
	Stat       Stat     `json:"stat"`
	Percentile float64  `json:"percentile,omitempty"`
	Op         Operator `json:"op"`
	Bound      float64  `json:"bound"`
}

// StatName returns the statistic as written in k6 form, e.g. "p(95)".
func (c Criterion) StatName() string {
	if c.Stat == StatPercentile {
		return "p(" + strconv.FormatFloat(c.Percentile, 'f', -1, 64) + ")"
	}
	return string(c.Stat)
}

func (c Criterion) String() string {
	return fmt.Sprintf("%s %s %s", c.StatName(), c.Op, strconv.FormatFloat(c.Bound, 'f', -1, 64))
}

var exprRe = regexp.MustCompile(`^(avg|min|max|med|count|rate|p\(\s*([0-9.]+)\s*\)|p([0-9.]+))\s*(<=|>=|==|!=|<>|<|>|=)\s*(\S+)$`)

// Parse parses a threshold expression such as "p(95)<500" or "rate < 1%".
func Parse(expr string) (Criterion, error) {
	trimmed := strings.TrimSpace(expr)
	m := exprRe.FindStringSubmatch(trimmed)
	if m == nil {
		return Criterion{}, fmt.Errorf("invalid threshold expression %q", expr)
	}

	c := Criterion{Expression: trimmed, Op: normalizeOp(m[4])}

	switch {
	case m[2] != "" || m[3] != "":
		raw := m[2] + m[3]
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 || p > 100 {
			return Criterion{}, fmt.Errorf("invalid percentile %q in %q", raw, expr)
		}
		c.Stat = StatPercentile
		c.Percentile = p
	default:
		c.Stat = Stat(m[1])
	}

	bound, err := parseBound(m[5])
	if err != nil {
		return Criterion{}, fmt.Errorf("invalid bound in %q: %w", expr, err)
	}
	c.Bound = bound

	return c, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) Criterion {
	c, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseAll parses the expressions of every metric. The first error is
// returned with the metric name attached.
func ParseAll(exprs map[string][]string) (map[string][]Criterion, error) {
	result := make(map[string][]Criterion, len(exprs))
	for metric, list := range exprs {
		for _, expr := range list {
			c, err := Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("threshold %s: %w", metric, err)
			}
			result[metric] = append(result[metric], c)
		}
	}
	return result, nil
}

func normalizeOp(op string) Operator {
	switch op {
	case "=":
		return OpEqual
	case "<>":
		return OpNotEqual
	default:
		return Operator(op)
	}
}

// parseBound accepts a plain number, a percentage or a duration literal.
// Durations are returned in milliseconds.
func parseBound(s string) (float64, error) {
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, err
		}
		return v / 100, nil
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a number nor a duration", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}
