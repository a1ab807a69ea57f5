// Package index keeps one authoritative, immutable snapshot of tickets and
// agents, rebuilt from the store's change feeds.
//
// Every workflow reads a single *Snapshot for its whole decision, so a
// concurrent feed update can never make it see half-old, half-new state.
// Snapshots are replaced wholesale through an atomic pointer and never
// mutated after publication.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/store"
)

// Snapshot is an immutable view of the ticket and agent sets.
type Snapshot struct {
	Tickets   []model.Ticket
	Employees []model.Employee
	LoadedAt  time.Time
}

// Ticket looks up a ticket by id.
func (s *Snapshot) Ticket(id uuid.UUID) (model.Ticket, bool) {
	for _, t := range s.Tickets {
		if t.ID == id {
			return t, true
		}
	}
	return model.Ticket{}, false
}

// Employee looks up an agent by id.
func (s *Snapshot) Employee(id uuid.UUID) (model.Employee, bool) {
	for _, e := range s.Employees {
		if e.ID == id {
			return e, true
		}
	}
	return model.Employee{}, false
}

// Snapshotter hands out a snapshot for one workflow invocation.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Reader is the read side of the store needed to build a snapshot.
type Reader interface {
	GetAllTickets(ctx context.Context) ([]model.Ticket, error)
	GetAllEmployees(ctx context.Context) ([]model.Employee, error)
}

// Load reads tickets and agents concurrently and returns a new snapshot.
func Load(ctx context.Context, r Reader) (*Snapshot, error) {
	var (
		tickets   []model.Ticket
		employees []model.Employee
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tickets, err = r.GetAllTickets(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		employees, err = r.GetAllEmployees(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index: load snapshot: %w", err)
	}
	return &Snapshot{Tickets: tickets, Employees: employees, LoadedAt: time.Now()}, nil
}

// Direct loads a fresh snapshot from the store on every call.
type Direct struct {
	r Reader
}

// NewDirect creates a Direct snapshotter.
func NewDirect(r Reader) *Direct { return &Direct{r: r} }

// Snapshot implements Snapshotter.
func (d *Direct) Snapshot(ctx context.Context) (*Snapshot, error) {
	return Load(ctx, d.r)
}

// Source is what the Index subscribes to.
type Source interface {
	Reader
	SubscribeTickets(fn func([]model.Ticket)) store.Unsubscribe
	SubscribeEmployees(fn func([]model.Employee)) store.Unsubscribe
}

const refreshTimeout = 10 * time.Second

// Index is a feed-maintained Snapshotter.
type Index struct {
	src    Source
	logger *slog.Logger

	cur     atomic.Pointer[Snapshot]
	refresh singleflight.Group

	mu     sync.Mutex
	unsubs []store.Unsubscribe
}

// New creates an Index. Call Start to subscribe and load.
func New(src Source, logger *slog.Logger) *Index {
	return &Index{src: src, logger: logger}
}

// Start subscribes to the change feeds and loads the initial snapshot.
// Subscribing first means no update can slip between load and subscribe.
func (i *Index) Start(ctx context.Context) error {
	i.mu.Lock()
	i.unsubs = append(i.unsubs,
		i.src.SubscribeTickets(i.onTickets),
		i.src.SubscribeEmployees(i.onEmployees),
	)
	i.mu.Unlock()

	if _, err := i.Refresh(ctx); err != nil {
		return err
	}
	i.logger.Info("index: started", "tickets", len(i.cur.Load().Tickets), "employees", len(i.cur.Load().Employees))
	return nil
}

// Close drops the feed subscriptions.
func (i *Index) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, u := range i.unsubs {
		u()
	}
	i.unsubs = nil
}

// Current returns the latest snapshot, or nil before the first load.
func (i *Index) Current() *Snapshot { return i.cur.Load() }

// Snapshot returns the current snapshot, loading one if none exists yet.
func (i *Index) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s := i.cur.Load(); s != nil {
		return s, nil
	}
	return i.Refresh(ctx)
}

// Refresh reloads the snapshot from the store. Concurrent callers share one
// load. The load runs detached from the first caller's cancellation so one
// impatient caller cannot fail the others.
func (i *Index) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := i.refresh.Do("refresh", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		s, err := Load(loadCtx, i.src)
		if err != nil {
			return nil, err
		}
		i.cur.Store(s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (i *Index) onTickets(ts []model.Ticket) {
	ts = slices.Clone(ts)
	for {
		old := i.cur.Load()
		if old == nil {
			return // initial Refresh will pick this up
		}
		next := &Snapshot{Tickets: ts, Employees: old.Employees, LoadedAt: time.Now()}
		if i.cur.CompareAndSwap(old, next) {
			return
		}
	}
}

func (i *Index) onEmployees(es []model.Employee) {
	es = slices.Clone(es)
	for {
		old := i.cur.Load()
		if old == nil {
			return
		}
		next := &Snapshot{Tickets: old.Tickets, Employees: es, LoadedAt: time.Now()}
		if i.cur.CompareAndSwap(old, next) {
			return
		}
	}
}
