package performance_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rpzload/internal/performance"
	"github.com/wesleyorama2/rpzload/internal/performance/metrics"
)

// getWorkload issues one GET against url per iteration.
type getWorkload struct {
	url       string
	iterErr   error
	setupErr  error
	fixture   any
	iterCount atomic.Int64
	seen      sync.Map // vu id -> []int64 iteration numbers
}

func (w *getWorkload) Setup(ctx context.Context, s *performance.Session) (any, error) {
	if w.setupErr != nil {
		return nil, w.setupErr
	}
	s.Do(ctx, &performance.Request{Name: "setup", Method: http.MethodGet, URL: w.url},
		performance.SuccessCheck("setup ok"))
	return w.fixture, nil
}

func (w *getWorkload) Iterate(ctx context.Context, it *performance.Iteration) error {
	w.iterCount.Add(1)
	prev, _ := w.seen.LoadOrStore(it.VUID, []int64{})
	w.seen.Store(it.VUID, append(prev.([]int64), it.Number))

	it.Session.Do(ctx, &performance.Request{Name: "get", Method: http.MethodGet, URL: w.url},
		performance.StatusCheck("GET 200", http.StatusOK))
	return w.iterErr
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newVU(t *testing.T, id int, w performance.Workload, collector *metrics.Collector, seed int64) *performance.VirtualUser {
	t.Helper()
	client := performance.NewHTTPClient(performance.DefaultHTTPClientConfig())
	return performance.NewVirtualUser(id, w, performance.NewFixtureStore(), client, collector, nil, seed)
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state performance.VUState
		want  string
	}{
		{performance.VUStateIdle, "idle"},
		{performance.VUStateRunning, "running"},
		{performance.VUStateStopping, "stopping"},
		{performance.VUStateStopped, "stopped"},
		{performance.VUState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	server := okServer(t)
	collector := metrics.NewCollector()

	w := &getWorkload{url: server.URL}
	vu := newVU(t, 1, w, collector, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, vu.RunIteration(context.Background()))
	}
	collector.Freeze()

	assert.Equal(t, int64(3), vu.GetIteration())
	assert.Equal(t, performance.VUStateIdle, vu.GetState())

	reqs, err := collector.Count(metrics.HTTPReqs)
	require.NoError(t, err)
	assert.Equal(t, 3.0, reqs.Count)

	iters, err := collector.Count(metrics.Iterations)
	require.NoError(t, err)
	assert.Equal(t, 3.0, iters.Count)

	checks := collector.Checks()
	require.Len(t, checks, 1)
	assert.Equal(t, int64(3), checks[0].Passes)
}

func TestVirtualUser_IterationNumbersAreOrdered(t *testing.T) {
	server := okServer(t)
	collector := metrics.NewCollector()
	defer collector.Freeze()

	w := &getWorkload{url: server.URL}
	vu := newVU(t, 7, w, collector, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, vu.RunIteration(context.Background()))
	}

	got, ok := w.seen.Load(7)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestVirtualUser_WorkloadErrorIsReturned(t *testing.T) {
	server := okServer(t)
	collector := metrics.NewCollector()
	defer collector.Freeze()

	boom := errors.New("boom")
	vu := newVU(t, 1, &getWorkload{url: server.URL, iterErr: boom}, collector, 0)

	assert.ErrorIs(t, vu.RunIteration(context.Background()), boom)
	assert.Equal(t, performance.VUStateIdle, vu.GetState())
}

func TestVirtualUser_RunIteration_StoppedVU(t *testing.T) {
	collector := metrics.NewCollector()
	defer collector.Freeze()

	w := &getWorkload{url: "http://127.0.0.1:1"}
	vu := newVU(t, 1, w, collector, 0)
	vu.RequestStop()

	if err := vu.RunIteration(context.Background()); !errors.Is(err, performance.ErrVUNotIdle) {
		t.Errorf("RunIteration() on stopping VU error = %v, want ErrVUNotIdle", err)
	}
	if w.iterCount.Load() != 0 {
		t.Errorf("workload ran %d times, want 0", w.iterCount.Load())
	}
}

func TestVirtualUser_RunIteration_ContextCancelled(t *testing.T) {
	server := okServer(t)
	collector := metrics.NewCollector()

	vu := newVU(t, 1, &getWorkload{url: server.URL}, collector, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = vu.RunIteration(ctx)
	collector.Freeze()

	_, err := collector.Count(metrics.Iterations)
	assert.ErrorIs(t, err, metrics.ErrNoData, "cancelled iterations are not counted")
	_, err = collector.Count(metrics.HTTPReqs)
	assert.ErrorIs(t, err, metrics.ErrNoData, "requests are not issued on a done context")
}

func TestVirtualUser_RequestStop(t *testing.T) {
	vu := newVU(t, 1, &getWorkload{}, metrics.NewCollector(), 0)

	vu.RequestStop()
	vu.RequestStop()

	if vu.GetState() != performance.VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
	select {
	case <-vu.Stopping():
	default:
		t.Error("Stopping() channel should be closed")
	}
}

func TestVirtualUser_MarkStopped(t *testing.T) {
	vu := newVU(t, 1, &getWorkload{}, metrics.NewCollector(), 0)

	vu.MarkStopped()
	vu.MarkStopped()
	vu.RequestStop()

	if vu.GetState() != performance.VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
	if !vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop() should return true after MarkStopped")
	}
}

func TestVirtualUser_WaitForStop_Timeout(t *testing.T) {
	vu := newVU(t, 1, &getWorkload{}, metrics.NewCollector(), 0)

	if vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop() should time out on a running VU")
	}
}

func TestVirtualUser_SeededRandIsDeterministic(t *testing.T) {
	collector := metrics.NewCollector()
	defer collector.Freeze()

	draw := func(id int, seed int64) []int {
		vu := newVU(t, id, &getWorkload{}, collector, seed)
		out := make([]int, 8)
		for i := range out {
			out[i] = vu.Rand().IntN(1024)
		}
		return out
	}

	assert.Equal(t, draw(3, 42), draw(3, 42))
	assert.NotEqual(t, draw(3, 42), draw(4, 42))
}

func TestFixtureStore(t *testing.T) {
	fs := performance.NewFixtureStore()
	assert.False(t, fs.Published())
	assert.Nil(t, fs.Get())

	ids := []string{"item0", "item1"}
	require.NoError(t, fs.Publish(ids))
	assert.True(t, fs.Published())
	assert.Equal(t, ids, fs.Get())

	assert.ErrorIs(t, fs.Publish([]string{"other"}), performance.ErrFixturePublished)
	assert.Equal(t, ids, fs.Get())
}

func TestFixtureStore_ConcurrentReaders(t *testing.T) {
	fs := performance.NewFixtureStore()
	require.NoError(t, fs.Publish(map[string]int{"a": 1}))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m := fs.Get().(map[string]int)
				assert.Equal(t, 1, m["a"])
			}
		}()
	}
	wg.Wait()
}
