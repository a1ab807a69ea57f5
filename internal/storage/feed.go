package storage

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/store"
)

// subscribers holds the snapshot callbacks registered on a DB.
type subscribers struct {
	mu          sync.RWMutex
	nextID      int
	tickets     map[int]func([]model.Ticket)
	employees   map[int]func([]model.Employee)
	derivations map[int]func([]model.DerivationRecord)
}

func newSubscribers() *subscribers {
	return &subscribers{
		tickets:     make(map[int]func([]model.Ticket)),
		employees:   make(map[int]func([]model.Employee)),
		derivations: make(map[int]func([]model.DerivationRecord)),
	}
}

func subscribe[T any](s *subscribers, m map[int]func([]T), fn func([]T)) store.Unsubscribe {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	m[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(m, id)
			s.mu.Unlock()
		})
	}
}

func publish[T any](s *subscribers, m map[int]func([]T), snap []T) {
	s.mu.RLock()
	fns := make([]func([]T), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(slices.Clone(snap))
	}
}

// SubscribeTickets registers fn for ticket snapshots. Snapshots arrive once
// the feed is running (see RunFeed).
func (db *DB) SubscribeTickets(fn func([]model.Ticket)) store.Unsubscribe {
	return subscribe(db.subs, db.subs.tickets, fn)
}

// SubscribeEmployees registers fn for agent snapshots.
func (db *DB) SubscribeEmployees(fn func([]model.Employee)) store.Unsubscribe {
	return subscribe(db.subs, db.subs.employees, fn)
}

// SubscribeDerivations registers fn for derivation record snapshots.
func (db *DB) SubscribeDerivations(fn func([]model.DerivationRecord)) store.Unsubscribe {
	return subscribe(db.subs, db.subs.derivations, fn)
}

// RunFeed listens on the entity channels and, after each change, reloads the
// affected set and hands the full snapshot to every subscriber. Bursts of
// notifications on one channel collapse into a single reload. It blocks, so
// call it in a goroutine. Returns when ctx is cancelled.
func (db *DB) RunFeed(ctx context.Context) {
	channels := []string{ChannelTickets, ChannelEmployees, ChannelDerivations}
	if err := db.Listen(ctx, channels...); err != nil {
		db.logger.Error("storage: feed listen", "error", err)
		return
	}
	db.logger.Info("storage: feed listening for changes", "channels", channels)

	dirty := make(map[string]*atomic.Bool, len(channels))
	for _, ch := range channels {
		dirty[ch] = new(atomic.Bool)
	}
	kick := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		db.reloadLoop(ctx, channels, dirty, kick)
	}()
	defer wg.Wait()

	markDirty := func(chs ...string) {
		for _, ch := range chs {
			if flag, ok := dirty[ch]; ok {
				flag.Store(true)
			}
		}
		select {
		case kick <- struct{}{}:
		default:
		}
	}

	for {
		channel, _, err := db.WaitForNotification(ctx)
		if err == nil {
			markDirty(channel)
			continue
		}
		if ctx.Err() != nil {
			return // Shutting down.
		}
		db.logger.Warn("storage: feed notification error, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		if err := db.reconnectListener(ctx); err != nil {
			db.logger.Warn("storage: feed reconnect failed", "error", err)
			continue
		}
		// Changes made while disconnected were never announced.
		markDirty(channels...)
	}
}

func (db *DB) reloadLoop(ctx context.Context, channels []string, dirty map[string]*atomic.Bool, kick <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
		}
		for _, ch := range channels {
			if dirty[ch].Swap(false) {
				db.reload(ctx, ch)
			}
		}
	}
}

func (db *DB) reload(ctx context.Context, channel string) {
	var err error
	switch channel {
	case ChannelTickets:
		var snap []model.Ticket
		if snap, err = db.GetAllTickets(ctx); err == nil {
			publish(db.subs, db.subs.tickets, snap)
		}
	case ChannelEmployees:
		var snap []model.Employee
		if snap, err = db.GetAllEmployees(ctx); err == nil {
			publish(db.subs, db.subs.employees, snap)
		}
	case ChannelDerivations:
		var snap []model.DerivationRecord
		if snap, err = db.ListDerivations(ctx); err == nil {
			publish(db.subs, db.subs.derivations, snap)
		}
	}
	if err != nil && ctx.Err() == nil {
		db.logger.Warn("storage: feed reload failed", "channel", channel, "error", err)
	}
}
