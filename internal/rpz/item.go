// Package rpz is the items workload run by rpzload and the in-process item
// service it can be pointed at.
package rpz

import (
	"strconv"
	"time"

	"github.com/wesleyorama2/rpzload/pkg/jsonpath"
	"github.com/wesleyorama2/rpzload/pkg/jsonschema"
)

// Item is the resource served under /rpz/items.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// newItem is the body setup POSTs; the server assigns the timestamp.
type newItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ItemID returns the ID of the i-th preloaded item.
func ItemID(i int) string {
	return "item" + strconv.Itoa(i)
}

// PreloadedName returns the name setup gives item id.
func PreloadedName(id string) string {
	return "Preloaded " + id
}

const itemSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "name"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"timestamp": {"type": "string"}
	}
}`

var (
	itemValidator = jsonschema.MustCompile("item.json", itemSchema)
	itemIDPath    = jsonpath.MustCompile("$.id")
)

// IsItem reports whether body is an item document with the given id.
func IsItem(body []byte, id string) bool {
	if !itemValidator.Valid(body) {
		return false
	}
	got, ok := itemIDPath.Get(body)
	return ok && got == id
}
