package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newGuard(t *testing.T, interval time.Duration) (*IntervalGuard, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	g := NewIntervalGuard(interval)
	g.now = c.now
	t.Cleanup(func() { require.NoError(t, g.Close()) })
	return g, c
}

func TestIntervalGuard(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		want    bool
	}{
		{"same instant", 0, false},
		{"just before the interval", time.Second - time.Millisecond, false},
		{"exactly at the interval", time.Second, true},
		{"well after", time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, c := newGuard(t, time.Second)
			ctx := context.Background()
			ok, err := g.Allow(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok, "first call always passes")

			c.advance(tt.advance)
			ok, err = g.Allow(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIntervalGuardRefusedCallDoesNotExtend(t *testing.T) {
	g, c := newGuard(t, time.Second)
	ctx := context.Background()
	ok, _ := g.Allow(ctx, "k")
	require.True(t, ok)

	c.advance(900 * time.Millisecond)
	ok, _ = g.Allow(ctx, "k")
	require.False(t, ok)

	c.advance(100 * time.Millisecond)
	ok, _ = g.Allow(ctx, "k")
	assert.True(t, ok, "quiet period counts from the last admitted call")
}

func TestIntervalGuardIndependentKeys(t *testing.T) {
	g, _ := newGuard(t, time.Hour)
	ctx := context.Background()
	ok, _ := g.Allow(ctx, "a")
	require.True(t, ok)
	ok, _ = g.Allow(ctx, "a")
	require.False(t, ok)
	ok, _ = g.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestIntervalGuardConcurrent(t *testing.T) {
	g, _ := newGuard(t, time.Hour)
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Allow(ctx, "shared")
			assert.NoError(t, err)
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load())
}

func TestIntervalGuardSweepsExpiredKeys(t *testing.T) {
	g, c := newGuard(t, time.Second)
	ctx := context.Background()
	_, _ = g.Allow(ctx, "old")
	c.advance(2 * time.Second)
	for i := 1; i < sweepEvery; i++ {
		_, _ = g.Allow(ctx, fmt.Sprintf("k%d", i))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.NotContains(t, g.until, "old")
	assert.Len(t, g.until, sweepEvery-1)
}

func TestRepeatGuard(t *testing.T) {
	ctx := context.Background()

	_, ok := NewRepeatGuard(0).(NoopLimiter)
	assert.True(t, ok, "zero interval disables the guard")

	g := NewRepeatGuard(2 * time.Second)
	defer func() { _ = g.Close() }()
	ig := g.(*IntervalGuard)
	c := &clock{t: time.Now()}
	ig.now = c.now

	require.NoError(t, Check(ctx, g, "availability:a:pause"))
	assert.ErrorIs(t, Check(ctx, g, "availability:a:pause"), model.ErrTooFrequent)
	assert.NoError(t, Check(ctx, g, "availability:a:activate"), "different action")

	c.advance(2 * time.Second)
	assert.NoError(t, Check(ctx, g, "availability:a:pause"))
}

type brokenLimiter struct{ NoopLimiter }

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}

func TestCheckFailsOpen(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Check(ctx, brokenLimiter{}, "k"))
	assert.NoError(t, Check(ctx, nil, "k"))
	assert.NoError(t, Check(ctx, NoopLimiter{}, "k"))
}
