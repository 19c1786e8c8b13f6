// Package rate paces request issuance with a leaky bucket.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a leaky bucket: it hands out start times spaced 1/rate apart.
// A caller that falls behind schedule starts immediately, but at most
// burst starts are ever stored up.
//
// Limiter is safe for concurrent use.
//
//	l := rate.NewLimiter(50, 1) // 50 requests per second
//	for _, id := range ids {
//	    if err := l.Wait(ctx); err != nil {
//	        return err
//	    }
//	    create(id)
//	}
type Limiter struct {
	mu          sync.Mutex
	rate        float64
	burst       float64
	accumulated float64
	lastDrip    time.Time

	admitted atomic.Int64
	waited   atomic.Int64 // nanoseconds
}

// NewLimiter creates a limiter for perSecond starts per second. The first
// call is admitted immediately. burst below 1 is treated as 1.
func NewLimiter(perSecond, burst float64) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:        perSecond,
		burst:       burst,
		accumulated: 1,
		lastDrip:    time.Now(),
	}
}

// Next reserves the next start and returns when it is due. The time is in
// the past or now when the caller may start at once.
func (l *Limiter) Next() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.admitted.Add(1)

	// Slots are already reserved ahead of now: queue behind the last one.
	if l.lastDrip.After(now) {
		next := l.lastDrip.Add(time.Duration(float64(time.Second) / l.rate))
		l.lastDrip = next
		l.waited.Add(int64(next.Sub(now)))
		return next
	}

	l.accumulated += now.Sub(l.lastDrip).Seconds() * l.rate
	if l.accumulated > l.burst {
		l.accumulated = l.burst
	}

	if l.accumulated >= 1 {
		l.accumulated--
		l.lastDrip = now
		return now
	}

	// lastDrip moves to the reserved slot so waking up at that slot does not
	// count the wait twice.
	wait := time.Duration((1 - l.accumulated) / l.rate * float64(time.Second))
	l.accumulated = 0
	next := now.Add(wait)
	l.lastDrip = next
	l.waited.Add(int64(wait))
	return next
}

// Wait blocks until the next start is due or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d := time.Until(l.Next())
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the configured starts per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Stats reports how many starts were handed out and how long callers were
// told to wait in total.
func (l *Limiter) Stats() (admitted int64, waited time.Duration) {
	return l.admitted.Load(), time.Duration(l.waited.Load())
}
