// Package jsonpath reads values out of JSON response bodies with a small
// JSONPath subset ($.a.b, $.list[0], $['key']) translated to gjson syntax.
package jsonpath

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a JSONPath expression translated once to gjson syntax.
type Path struct {
	expr  string
	gpath string
}

// Compile translates a JSONPath expression.
func Compile(expr string) (Path, error) {
	if strings.TrimSpace(expr) == "" {
		return Path{}, fmt.Errorf("empty JSONPath expression")
	}
	if !strings.HasPrefix(expr, "$") {
		return Path{}, fmt.Errorf("JSONPath must start with $: %s", expr)
	}
	return Path{expr: expr, gpath: toGjson(expr)}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	return p.expr
}

// Get returns the value at p as a string. Null values are returned as
// "null". The bool is false if the path does not exist or body is not JSON.
func (p Path) Get(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}

	result := gjson.GetBytes(body, p.gpath)
	if !result.Exists() {
		return "", false
	}
	if result.Type == gjson.Null {
		return "null", true
	}
	return result.String(), true
}

// Extract reads the value at expr from body.
func Extract(body []byte, expr string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON body")
	}

	p, err := Compile(expr)
	if err != nil {
		return "", err
	}

	v, ok := p.Get(body)
	if !ok {
		return "", fmt.Errorf("path not found: %s", expr)
	}
	return v, nil
}

var (
	quotedKey = regexp.MustCompile(`\[\s*['"]([^'"]*)['"]\s*\]`)
	indexKey  = regexp.MustCompile(`\[\s*(\d+)\s*\]`)
)

// toGjson converts $.users[0]['first name'] to users.0.first name.
func toGjson(expr string) string {
	path := strings.TrimPrefix(expr, "$")
	if path == "" {
		return "@this"
	}

	path = quotedKey.ReplaceAllStringFunc(path, func(m string) string {
		key := quotedKey.FindStringSubmatch(m)[1]
		return "." + escape(key)
	})
	path = indexKey.ReplaceAllString(path, ".$1")

	return strings.TrimPrefix(path, ".")
}

// escape protects gjson's special characters inside a bracketed key.
func escape(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
