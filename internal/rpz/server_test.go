package rpz

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateAndGet(t *testing.T) {
	s := NewServer(ServerOptions{})

	rec := do(t, s, http.MethodPost, "/rpz/items", `{"id":"item1","name":"Preloaded item1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "item1", created.ID)
	assert.False(t, created.Timestamp.IsZero())

	rec = do(t, s, http.MethodGet, "/rpz/items/item1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, IsItem(rec.Body.Bytes(), "item1"))

	assert.Equal(t, 1, s.Len())
}

func TestServer_Errors(t *testing.T) {
	s := NewServer(ServerOptions{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown item", http.MethodGet, "/rpz/items/item404", "", http.StatusNotFound},
		{"invalid JSON", http.MethodPost, "/rpz/items", `{"id":`, http.StatusBadRequest},
		{"missing id", http.MethodPost, "/rpz/items", `{"name":"x"}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/rpz/other", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/rpz/items/item1", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_Duplicates(t *testing.T) {
	replace := NewServer(ServerOptions{})
	require.Equal(t, http.StatusCreated, do(t, replace, http.MethodPost, "/rpz/items", `{"id":"a","name":"one"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, replace, http.MethodPost, "/rpz/items", `{"id":"a","name":"two"}`).Code)
	item, ok := replace.Get("a")
	require.True(t, ok)
	assert.Equal(t, "two", item.Name)

	reject := NewServer(ServerOptions{RejectDuplicates: true})
	require.Equal(t, http.StatusCreated, do(t, reject, http.MethodPost, "/rpz/items", `{"id":"a","name":"one"}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, reject, http.MethodPost, "/rpz/items", `{"id":"a","name":"two"}`).Code)
	item, _ = reject.Get("a")
	assert.Equal(t, "one", item.Name)
}

func TestServer_Concurrent(t *testing.T) {
	s := NewServer(ServerOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ItemID(i)
			do(t, s, http.MethodPost, "/rpz/items", `{"id":"`+id+`","name":"x"}`)
			do(t, s, http.MethodGet, "/rpz/items/"+id, "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, s.Len())
}

func TestIsItem(t *testing.T) {
	assert.True(t, IsItem([]byte(`{"id":"item3","name":"Preloaded item3"}`), "item3"))
	assert.False(t, IsItem([]byte(`{"id":"item4","name":"Preloaded item4"}`), "item3"))
	assert.False(t, IsItem([]byte(`{"id":"item3"}`), "item3"))
	assert.False(t, IsItem([]byte(`{"error":"item not found"}`), "item3"))
	assert.False(t, IsItem([]byte(`not json`), "item3"))
}

func TestItemID(t *testing.T) {
	assert.Equal(t, "item0", ItemID(0))
	assert.Equal(t, "item1023", ItemID(1023))
	assert.Equal(t, "Preloaded item7", PreloadedName("item7"))
}
