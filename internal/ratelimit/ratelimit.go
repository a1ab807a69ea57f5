// Package ratelimit guards against the same action being repeated too fast,
// such as an agent hammering the availability toggle.
//
// The guard is advisory: it trims duplicate writes from impatient users and
// is never what keeps ticket or agent state correct. Limiter errors therefore
// fail open.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/turno/internal/model"
)

// Limiter decides whether an action identified by key may run now.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the action should proceed. The key is opaque;
	// callers construct it (e.g. "availability:<agent>:pause").
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases whatever state the limiter holds.
	Close() error
}

// NoopLimiter permits every action. Used when the guard is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// NewRepeatGuard returns a Limiter that lets one action per key through every
// minInterval. A non-positive interval disables the guard.
func NewRepeatGuard(minInterval time.Duration) Limiter {
	if minInterval <= 0 {
		return NoopLimiter{}
	}
	return NewIntervalGuard(minInterval)
}

// Check consults l for key and returns model.ErrTooFrequent when the action
// must be refused. Limiter malfunctions let the action through.
func Check(ctx context.Context, l Limiter, key string) error {
	if l == nil {
		return nil
	}
	ok, err := l.Allow(ctx, key)
	if err != nil || ok {
		return nil
	}
	return fmt.Errorf("ratelimit: %s: %w", key, model.ErrTooFrequent)
}
