package assignment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/turno/internal/index"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/store"
)

type jobKind uint8

const (
	jobNextForAgent jobKind = iota + 1
	jobNewTicket
)

type job struct {
	kind jobKind
	id   uuid.UUID
}

// Feeds is the subscription side of the store the Trigger listens to.
type Feeds interface {
	SubscribeTickets(fn func([]model.Ticket)) store.Unsubscribe
	SubscribeEmployees(fn func([]model.Employee)) store.Unsubscribe
}

// Trigger runs auto-assignment off the store's change feeds instead of a
// timer. When an agent turns active and free it queues AutoAssignNextTicket
// for that agent; when a ticket first shows up in the general queue it queues
// AutoAssignNewTicket (if enabled). Jobs are de-duplicated while pending and
// run one at a time on a single worker goroutine.
type Trigger struct {
	engine    *Engine
	feeds     Feeds
	logger    *slog.Logger
	assignNew bool

	mu        sync.Mutex
	pending   map[job]struct{}
	wasFree   map[uuid.UUID]bool
	seenQueue map[uuid.UUID]bool
	primedT   bool
	primedE   bool

	jobs       chan job
	unsubs     []store.Unsubscribe
	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewTrigger creates a Trigger. assignNew enables auto-assignment of newly
// queued tickets.
func NewTrigger(engine *Engine, feeds Feeds, assignNew bool, logger *slog.Logger) *Trigger {
	return &Trigger{
		engine:    engine,
		feeds:     feeds,
		logger:    logger,
		assignNew: assignNew,
		pending:   make(map[job]struct{}),
		wasFree:   make(map[uuid.UUID]bool),
		seenQueue: make(map[uuid.UUID]bool),
		jobs:      make(chan job, 256),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the feeds and starts the worker. It is safe to call
// only once; subsequent calls are no-ops and log a warning.
func (tr *Trigger) Start(ctx context.Context) {
	if !tr.started.CompareAndSwap(false, true) {
		tr.logger.Warn("trigger: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	tr.cancelLoop = cancel
	tr.unsubs = append(tr.unsubs,
		tr.feeds.SubscribeEmployees(tr.onEmployees),
		tr.feeds.SubscribeTickets(tr.onTickets),
	)
	tr.prime(ctx)
	go tr.loop(loopCtx)
}

// prime records the current state so the next feed snapshot is compared
// against it. A feed snapshot that arrived first wins. On a failed read the
// first feed snapshot primes instead.
func (tr *Trigger) prime(ctx context.Context) {
	snap, err := index.Load(ctx, tr.engine.store)
	if err != nil {
		tr.logger.Warn("trigger: prime from store", "error", err)
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.primedE {
		for _, e := range snap.Employees {
			tr.wasFree[e.ID] = e.Free()
		}
		tr.primedE = true
	}
	if !tr.primedT {
		for _, t := range snap.Tickets {
			if t.InGeneralQueue() {
				tr.seenQueue[t.ID] = true
			}
		}
		tr.primedT = true
	}
}

// Drain unsubscribes, lets the worker finish queued jobs and blocks until it
// exits or ctx expires.
func (tr *Trigger) Drain(ctx context.Context) {
	for _, u := range tr.unsubs {
		u()
	}
	if tr.cancelLoop != nil {
		tr.cancelLoop()
	}
	if !tr.started.Load() {
		return
	}
	select {
	case <-tr.done:
	case <-ctx.Done():
		tr.logger.Warn("trigger: drain timed out")
	}
}

// onEmployees queues agents that turned free since the previous snapshot.
// Agents already free at startup are picked up by the reconciler's first
// pass, not here.
func (tr *Trigger) onEmployees(es []model.Employee) {
	var queued []job
	tr.mu.Lock()
	for _, e := range es {
		free := e.Free()
		if tr.primedE && free && !tr.wasFree[e.ID] {
			queued = append(queued, job{kind: jobNextForAgent, id: e.ID})
		}
		tr.wasFree[e.ID] = free
	}
	tr.primedE = true
	tr.mu.Unlock()
	tr.enqueue(queued...)
}

// onTickets queues tickets that newly entered the general queue.
func (tr *Trigger) onTickets(ts []model.Ticket) {
	var queued []job
	tr.mu.Lock()
	inQueue := make(map[uuid.UUID]bool, len(tr.seenQueue))
	for _, t := range ts {
		if !t.InGeneralQueue() {
			continue
		}
		inQueue[t.ID] = true
		if tr.assignNew && tr.primedT && !tr.seenQueue[t.ID] {
			queued = append(queued, job{kind: jobNewTicket, id: t.ID})
		}
	}
	tr.seenQueue = inQueue
	tr.primedT = true
	tr.mu.Unlock()
	tr.enqueue(queued...)
}

func (tr *Trigger) enqueue(jobs ...job) {
	for _, j := range jobs {
		tr.mu.Lock()
		if _, dup := tr.pending[j]; dup {
			tr.mu.Unlock()
			continue
		}
		tr.pending[j] = struct{}{}
		tr.mu.Unlock()

		select {
		case tr.jobs <- j:
		default:
			// Full: the reconciler's periodic pass will catch up.
			tr.mu.Lock()
			delete(tr.pending, j)
			tr.mu.Unlock()
			tr.logger.Warn("trigger: job queue full, dropping", "job_id", j.id)
		}
	}
}

func (tr *Trigger) loop(ctx context.Context) {
	defer tr.once.Do(func() { close(tr.done) })
	for {
		select {
		case <-ctx.Done():
			// Finish what is already queued on a bounded context.
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			for {
				select {
				case j := <-tr.jobs:
					tr.run(drainCtx, j)
				default:
					cancel()
					return
				}
			}
		case j := <-tr.jobs:
			tr.run(ctx, j)
		}
	}
}

func (tr *Trigger) run(ctx context.Context, j job) {
	tr.mu.Lock()
	delete(tr.pending, j)
	tr.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch j.kind {
	case jobNextForAgent:
		_, _, err := tr.engine.AutoAssignNextTicket(jobCtx, j.id)
		if err != nil && !errors.Is(err, model.ErrAgentBusy) && !errors.Is(err, model.ErrAgentInactive) &&
			!errors.Is(err, model.ErrNotFound) {
			tr.logger.Warn("trigger: auto-assign next ticket", "agent_id", j.id, "error", err)
		}
	case jobNewTicket:
		_, _, err := tr.engine.AutoAssignNewTicket(jobCtx, j.id)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			tr.logger.Warn("trigger: auto-assign new ticket", "ticket_id", j.id, "error", err)
		}
	}
}
