// Package assignment selects agents for tickets and performs the assignment
// writes.
//
// Every decision is taken from one snapshot, but the agent (and the ticket)
// are re-read from the store immediately before each write: currentTicketId
// is the only thing that says whether an agent can take a ticket, and another
// process may have changed it since the snapshot was taken.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/turno/internal/index"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/notify"
	"github.com/ashita-ai/turno/internal/queue"
	"github.com/ashita-ai/turno/internal/ratelimit"
	"github.com/ashita-ai/turno/internal/saga"
	"github.com/ashita-ai/turno/internal/store"
	"github.com/ashita-ai/turno/internal/telemetry"
	"github.com/ashita-ai/turno/internal/workload"
)

// maxPickAttempts bounds how often AutoAssignNextTicket re-reads the ticket
// set after losing a race for the ticket it picked.
const maxPickAttempts = 3

// Config tunes the engine. Zero values pick the defaults.
type Config struct {
	// SettleAttempts is how many times SetAvailability re-reads the agent
	// waiting for its own write to become visible.
	SettleAttempts int
	// SettleDelay is the pause between settle re-reads.
	SettleDelay time.Duration
	// Now overrides time.Now.
	Now func() time.Time
}

// Engine is the assignment service.
type Engine struct {
	store    store.Store
	snaps    index.Snapshotter
	notifier *notify.BestEffort
	guard    ratelimit.Limiter
	logger   *slog.Logger

	settleAttempts int
	settleDelay    time.Duration
	now            func() time.Time

	assignments  metric.Int64Counter
	sagaFailures metric.Int64Counter
	duration     metric.Float64Histogram
}

// New creates an Engine. snaps may be nil, in which case every decision reads
// straight from the store. guard may be nil to disable the repeat guard.
func New(s store.Store, snaps index.Snapshotter, notifier *notify.BestEffort, guard ratelimit.Limiter, logger *slog.Logger, cfg Config) *Engine {
	if snaps == nil {
		snaps = index.NewDirect(s)
	}
	if notifier == nil {
		notifier = notify.NewBestEffort(nil, logger)
	}
	if guard == nil {
		guard = ratelimit.NoopLimiter{}
	}
	if cfg.SettleAttempts <= 0 {
		cfg.SettleAttempts = 5
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 50 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	meter := telemetry.Meter("turno/assignment")
	assignments, _ := meter.Int64Counter("turno.assignments",
		metric.WithDescription("Tickets handed to an agent by the assignment engine"),
	)
	sagaFailures, _ := meter.Int64Counter("turno.saga.failures",
		metric.WithDescription("Multi-step workflows that stopped part-way"),
	)
	duration, _ := meter.Float64Histogram("turno.workflow.duration",
		metric.WithDescription("Time to run a dispatch workflow (ms)"),
		metric.WithUnit("ms"),
	)
	return &Engine{
		store:          s,
		snaps:          snaps,
		notifier:       notifier,
		guard:          guard,
		logger:         logger,
		settleAttempts: cfg.SettleAttempts,
		settleDelay:    cfg.SettleDelay,
		now:            cfg.Now,
		assignments:    assignments,
		sagaFailures:   sagaFailures,
		duration:       duration,
	}
}

// Assignment is a ticket together with the agent now serving it.
type Assignment struct {
	Ticket model.Ticket
	Agent  model.Employee
}

// FindBestAvailableAgent returns the active agent with the lowest workload
// score, provided that score is under workload.AvailableThreshold. Ties go to
// the agent enumerated first.
func (e *Engine) FindBestAvailableAgent(ctx context.Context) (model.Employee, bool, error) {
	snap, err := e.snaps.Snapshot(ctx)
	if err != nil {
		return model.Employee{}, false, fmt.Errorf("assignment: find best agent: %w", err)
	}
	best, ok := workload.Best(snap.Employees, snap.Tickets)
	if !ok {
		return model.Employee{}, false, nil
	}
	return best.Employee, true, nil
}

// AutoAssignNewTicket hands a waiting general-queue ticket to the best
// available agent. It returns ok=false with no error when the ticket no longer
// qualifies or no agent is available; the ticket is then left untouched.
func (e *Engine) AutoAssignNewTicket(ctx context.Context, ticketID uuid.UUID) (Assignment, bool, error) {
	start := time.Now()
	defer e.observe(ctx, "auto_assign_new", start)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("turno.ticket_id", ticketID.String()))

	// 1. The ticket must exist and still wait in the general queue.
	t, err := e.store.GetTicket(ctx, ticketID)
	if err != nil {
		return Assignment{}, false, fmt.Errorf("assignment: get ticket: %w", err)
	}
	if !t.InGeneralQueue() {
		return Assignment{}, false, nil
	}

	// 2. Rank candidates from one snapshot.
	snap, err := e.snaps.Snapshot(ctx)
	if err != nil {
		return Assignment{}, false, fmt.Errorf("assignment: snapshot: %w", err)
	}
	candidates := workload.Rank(snap.Employees, snap.Tickets)

	// 3. Walk candidates in order, re-reading each right before the write.
	for _, c := range candidates {
		if !workload.Available(c.Score) {
			break
		}
		agent, err := e.store.GetEmployee(ctx, c.Employee.ID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return Assignment{}, false, fmt.Errorf("assignment: re-read agent: %w", err)
		}
		if !agent.Free() {
			continue
		}

		t, err = e.store.GetTicket(ctx, ticketID)
		if err != nil {
			return Assignment{}, false, fmt.Errorf("assignment: re-read ticket: %w", err)
		}
		if !t.InGeneralQueue() {
			return Assignment{}, false, nil
		}

		a, err := e.assign(ctx, "auto_assign_new", t, agent)
		if err != nil {
			return Assignment{}, false, err
		}
		return a, true, nil
	}
	return Assignment{}, false, nil
}

// AutoAssignNextTicket gives agentID the next ticket it should serve: the
// head of its personal queue, else the head of the general queue. It returns
// ok=false with no error when nothing qualifies. An unknown, inactive or
// busy agent is an error.
func (e *Engine) AutoAssignNextTicket(ctx context.Context, agentID uuid.UUID) (model.Ticket, bool, error) {
	start := time.Now()
	defer e.observe(ctx, "auto_assign_next", start)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("turno.agent_id", agentID.String()))

	// 1. Preconditions on a fresh read of the agent.
	agent, err := e.store.GetEmployee(ctx, agentID)
	if err != nil {
		return model.Ticket{}, false, fmt.Errorf("assignment: get agent: %w", err)
	}
	if err := requireFree(agent); err != nil {
		return model.Ticket{}, false, err
	}

	// 2. Pick from the snapshot first, then from fresh loads if the pick was
	// taken by someone else in the meantime.
	for attempt := range maxPickAttempts {
		var tickets []model.Ticket
		if attempt == 0 {
			snap, err := e.snaps.Snapshot(ctx)
			if err != nil {
				return model.Ticket{}, false, fmt.Errorf("assignment: snapshot: %w", err)
			}
			tickets = snap.Tickets
		} else {
			tickets, err = e.store.GetAllTickets(ctx)
			if err != nil {
				return model.Ticket{}, false, fmt.Errorf("assignment: load tickets: %w", err)
			}
		}

		next, ok := queue.NextForAgent(tickets, agentID)
		if !ok {
			return model.Ticket{}, false, nil
		}

		// 3. Re-read ticket and agent right before writing.
		t, err := e.store.GetTicket(ctx, next.ID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return model.Ticket{}, false, fmt.Errorf("assignment: re-read ticket: %w", err)
		}
		if !t.InPersonalQueueOf(agentID) && !t.InGeneralQueue() {
			continue
		}
		agent, err = e.store.GetEmployee(ctx, agentID)
		if err != nil {
			return model.Ticket{}, false, fmt.Errorf("assignment: re-read agent: %w", err)
		}
		if err := requireFree(agent); err != nil {
			return model.Ticket{}, false, err
		}

		fromPersonal := t.InPersonalQueueOf(agentID)
		a, err := e.assign(ctx, "auto_assign_next", t, agent)
		if err != nil {
			return model.Ticket{}, false, err
		}
		if fromPersonal {
			e.acceptPending(ctx, t.ID, agentID)
		}
		return a.Ticket, true, nil
	}
	return model.Ticket{}, false, nil
}

// Assign runs the assignment saga for a ticket and agent the caller has
// already re-read and checked. The derivation orchestrator uses it when an
// accepted derivation can be served straight away.
func (e *Engine) Assign(ctx context.Context, workflow string, t model.Ticket, agent model.Employee) (Assignment, error) {
	return e.assign(ctx, workflow, t, agent)
}

// assign writes ticket → being_served and agent → serving it, in that order.
func (e *Engine) assign(ctx context.Context, workflow string, t model.Ticket, agent model.Employee) (Assignment, error) {
	now := e.now().UTC()
	patch := model.TicketPatch{
		Status:             model.Set(model.StatusBeingServed),
		ServedBy:           model.Set(agent.ID),
		ServedAt:           model.Set(now),
		QueueType:          model.Clear[model.QueueType](),
		AssignedToEmployee: model.Clear[uuid.UUID](),
		QueuedForEmployee:  model.Clear[uuid.UUID](),
	}
	if t.WaitTime == nil {
		patch.WaitTime = model.Set(model.Seconds(t.CreatedAt, now))
	}
	agentPatch := model.EmployeePatch{
		CurrentTicketID: model.Set(t.ID),
		Availability:    model.Set(model.NextAvailability(agent.Availability, model.EventAssign)),
	}

	err := saga.Run(ctx, workflow,
		saga.Step{Name: "ticket", Do: func(ctx context.Context) error {
			return e.store.UpdateTicket(ctx, t.ID, patch)
		}},
		saga.Step{Name: "agent", Do: func(ctx context.Context) error {
			return e.store.UpdateEmployee(ctx, agent.ID, agentPatch)
		}},
	)
	if err != nil {
		e.sagaFailed(ctx, workflow, err)
		return Assignment{}, fmt.Errorf("assignment: %w", err)
	}

	patch.Apply(&t)
	agentPatch.Apply(&agent)
	e.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", workflow)))
	e.logger.Info("assignment: ticket assigned",
		"workflow", workflow, "ticket_id", t.ID, "ticket_number", t.Number, "agent_id", agent.ID)

	recipient := agent.ID
	e.notifier.Send(ctx, model.Notification{
		Kind:        model.NotifyTicketAssigned,
		Title:       "New ticket",
		Body:        fmt.Sprintf("Ticket #%d (%s) is now yours", t.Number, t.ServiceType),
		TicketID:    t.ID,
		RecipientID: &recipient,
		At:          now,
	})
	return Assignment{Ticket: t, Agent: agent}, nil
}

// acceptPending resolves pending derivation records for a personal-queue
// ticket the agent just picked up. Failures only leave a stale record.
func (e *Engine) acceptPending(ctx context.Context, ticketID, agentID uuid.UUID) {
	pending, err := e.store.ListPendingForAgent(ctx, agentID)
	if err != nil {
		e.logger.Warn("assignment: list pending derivations", "agent_id", agentID, "error", err)
		return
	}
	for _, rec := range pending {
		if rec.TicketID != ticketID {
			continue
		}
		if err := e.store.UpdateDerivationStatus(context.WithoutCancel(ctx), rec.ID, model.DerivationAccepted); err != nil {
			e.logger.Warn("assignment: accept derivation", "derivation_id", rec.ID, "error", err)
		}
	}
}

func (e *Engine) sagaFailed(ctx context.Context, workflow string, err error) {
	var serr *saga.Error
	if errors.As(err, &serr) {
		e.sagaFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow", workflow),
			attribute.String("step", serr.Step),
		))
		e.logger.Error("assignment: workflow stopped part-way",
			"workflow", workflow, "step", serr.Step, "committed", serr.Completed, "error", serr.Err)
	}
}

func (e *Engine) observe(ctx context.Context, workflow string, start time.Time) {
	e.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("workflow", workflow)))
}

func requireFree(agent model.Employee) error {
	if !agent.IsActive() {
		return fmt.Errorf("assignment: agent %s is %s: %w", agent.ID, agent.Availability, model.ErrAgentInactive)
	}
	if agent.Busy() {
		return fmt.Errorf("assignment: agent %s serves %s: %w", agent.ID, *agent.CurrentTicketID, model.ErrAgentBusy)
	}
	return nil
}
