package performance

import (
	"errors"
	"sync/atomic"
)

// ErrFixturePublished is returned when Publish is called a second time.
var ErrFixturePublished = errors.New("fixture already published")

// FixtureStore holds the value produced by a workload's Setup. It is written
// exactly once, before any VU starts, and read without locks afterwards.
type FixtureStore struct {
	value atomic.Pointer[fixture]
}

type fixture struct {
	v any
}

// NewFixtureStore creates an empty store.
func NewFixtureStore() *FixtureStore {
	return &FixtureStore{}
}

// Publish stores v. Only the first call succeeds.
func (fs *FixtureStore) Publish(v any) error {
	if !fs.value.CompareAndSwap(nil, &fixture{v: v}) {
		return ErrFixturePublished
	}
	return nil
}

// Get returns the published value, or nil before Publish.
func (fs *FixtureStore) Get() any {
	f := fs.value.Load()
	if f == nil {
		return nil
	}
	return f.v
}

// Published reports whether Publish has succeeded.
func (fs *FixtureStore) Published() bool {
	return fs.value.Load() != nil
}
