package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected float64
	}{
		{"positive rate", 100.0, 100.0},
		{"zero rate defaults to 1", 0.0, 1.0},
		{"negative rate defaults to 1", -10.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewLimiter(tt.rate, 1).Rate())
		})
	}
}

func TestLimiter_FirstIsImmediate(t *testing.T) {
	l := NewLimiter(1, 1)
	before := time.Now()
	assert.False(t, l.Next().After(before.Add(time.Millisecond)))
}

func TestLimiter_ReservationsAreSpaced(t *testing.T) {
	l := NewLimiter(100, 1)
	start := time.Now()

	var last time.Time
	for i := 0; i < 11; i++ {
		last = l.Next()
	}

	// ten slots after the immediate one, 10ms apart
	assert.InDelta(t, float64(100*time.Millisecond), float64(last.Sub(start)), float64(5*time.Millisecond))

	admitted, waited := l.Stats()
	assert.Equal(t, int64(11), admitted)
	assert.Greater(t, waited, 100*time.Millisecond)
}

func TestLimiter_Wait_Rate(t *testing.T) {
	l := NewLimiter(200, 1)
	start := time.Now()
	for i := 0; i < 21; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestLimiter_Wait_RespectsContext(t *testing.T) {
	l := NewLimiter(1, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	assert.ErrorIs(t, NewLimiter(1000, 1).Wait(cancelled), context.Canceled)
}

func TestLimiter_Burst(t *testing.T) {
	l := NewLimiter(100, 5)
	time.Sleep(60 * time.Millisecond)

	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.False(t, l.Next().After(now.Add(time.Millisecond)), "start %d should be stored up", i)
	}
	assert.True(t, l.Next().After(now))
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(1000, 1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = l.Wait(context.Background())
			}
		}()
	}
	wg.Wait()

	admitted, _ := l.Stats()
	assert.Equal(t, int64(80), admitted)
}
