// Package ratelimit provides the single-flight interval gate placed in front
// of every external catalog call. The reference catalog asks clients to keep
// at least a second between requests, so one Interval instance is shared by
// all catalog clients in the process, regardless of which scan worker issued
// the call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Interval enforces a minimum gap between successive calls to Wait. It is an
// explicit, constructed component so tests can instantiate independent
// limiters; never a package-level singleton.
type Interval struct {
	mu    sync.Mutex
	every time.Duration
	last  time.Time

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewInterval(every time.Duration) *Interval {
	return &Interval{
		every: every,
		sleep: sleepContext,
	}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous caller was released, then claims the current slot. Callers are
// serialized: with N concurrent callers the k-th is released no earlier than
// k*every after the first. Returns early with the context's error if the
// context is cancelled while waiting.
func (i *Interval) Wait(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	elapsed := time.Since(i.last)
	if elapsed < i.every {
		if err := i.sleep(ctx, i.every-elapsed); err != nil {
			return err
		}
	}

	i.last = time.Now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
