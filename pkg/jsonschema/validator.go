// Package jsonschema validates JSON response bodies against a schema that
// is compiled once and shared by every VU.
package jsonschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validator is a compiled schema. It is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles schema. name only identifies the schema in errors.
func Compile(name, schema string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(name, schema string) *Validator {
	v, err := Compile(name, schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks body against the schema. It returns nil if body is valid,
// a ValidationErrors listing every violation, or an error if body is not JSON.
func (v *Validator) Validate(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return extractValidationErrors(verr)
	}
	return ValidationErrors{err}
}

// Valid reports whether body is JSON that satisfies the schema.
func (v *Validator) Valid(body []byte) bool {
	return v.Validate(body) == nil
}

// extractValidationErrors flattens the leaf causes of a ValidationError.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{fmt.Errorf("at %q: %s", err.InstanceLocation, err.Message)}
	}

	var errs ValidationErrors
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	return errs
}
