package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between sweeps of expired keys.
const sweepEvery = 256

// IntervalGuard implements Limiter in memory: a key is let through at most
// once per interval. State lives in one process; each dispatch node guards
// only the calls it receives.
type IntervalGuard struct {
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	until map[string]time.Time // key -> earliest time the next call passes
	calls int
}

// NewIntervalGuard creates a guard that admits one call per key per interval.
func NewIntervalGuard(interval time.Duration) *IntervalGuard {
	return &IntervalGuard{
		interval: interval,
		now:      time.Now,
		until:    make(map[string]time.Time),
	}
}

// Allow reports whether key is outside its quiet period and, if so, starts a
// new one.
func (g *IntervalGuard) Allow(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.calls++
	if g.calls%sweepEvery == 0 {
		g.sweep(now)
	}

	if next, ok := g.until[key]; ok && now.Before(next) {
		return false, nil
	}
	g.until[key] = now.Add(g.interval)
	return true, nil
}

// Close drops all tracked keys.
func (g *IntervalGuard) Close() error {
	g.mu.Lock()
	clear(g.until)
	g.mu.Unlock()
	return nil
}

// sweep forgets keys whose quiet period is over. Caller holds g.mu.
func (g *IntervalGuard) sweep(now time.Time) {
	for key, next := range g.until {
		if !now.Before(next) {
			delete(g.until, key)
		}
	}
}
