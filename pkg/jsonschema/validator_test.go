package jsonschema

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

const itemSchema = `{
	"type": "object",
	"required": ["id", "name"],
	"properties": {
		"id": {"type": "string", "pattern": "^item[0-9]+$"},
		"name": {"type": "string"},
		"timestamp": {"type": "string", "format": "date-time"}
	}
}`

func TestValidator_Validate(t *testing.T) {
	v := MustCompile("item.json", itemSchema)

	tests := []struct {
		name      string
		body      string
		wantValid bool
		wantJSON  bool
		wantCount int
	}{
		{name: "valid item", body: `{"id":"item1","name":"Preloaded item1","timestamp":"2024-01-02T03:04:05Z"}`, wantValid: true, wantJSON: true},
		{name: "missing name", body: `{"id":"item1"}`, wantJSON: true, wantCount: 1},
		{name: "wrong id and type", body: `{"id":"thing","name":7}`, wantJSON: true, wantCount: 2},
		{name: "not an object", body: `[1,2]`, wantJSON: true, wantCount: 1},
		{name: "not JSON", body: `item not found`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.body))
			if tt.wantValid {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				if !v.Valid([]byte(tt.body)) {
					t.Error("Valid() = false for a valid body")
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}

			var verrs ValidationErrors
			isSchemaErr := errors.As(err, &verrs)
			if isSchemaErr != tt.wantJSON {
				t.Fatalf("schema error = %v, want %v (err: %v)", isSchemaErr, tt.wantJSON, err)
			}
			if tt.wantJSON && len(verrs) != tt.wantCount {
				t.Errorf("len(errors) = %d, want %d: %v", len(verrs), tt.wantCount, verrs)
			}
			if !tt.wantJSON && !strings.Contains(err.Error(), "invalid JSON") {
				t.Errorf("error = %v, want invalid JSON", err)
			}
		})
	}
}

func TestCompile_InvalidSchema(t *testing.T) {
	if _, err := Compile("bad.json", `{"type": 12}`); err == nil {
		t.Error("Compile() with an invalid schema should fail")
	}
	if _, err := Compile("broken.json", `{`); err == nil {
		t.Error("Compile() with broken JSON should fail")
	}
}

func TestValidator_Concurrent(t *testing.T) {
	v := MustCompile("item.json", itemSchema)
	body := []byte(`{"id":"item1","name":"x"}`)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !v.Valid(body) {
					t.Error("Valid() = false")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestValidationErrors_Error(t *testing.T) {
	ve := ValidationErrors{errors.New("a"), errors.New("b")}
	if ve.Error() != "a; b" {
		t.Errorf("Error() = %q", ve.Error())
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should have an empty message")
	}
}
