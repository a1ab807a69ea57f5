// Package derivation runs the hand-off protocol: moving a ticket that is being
// served to another agent or back to the general queue, plus the other
// service-side transitions (complete, cancel, recall, force-complete).
//
// Every operation validates against a fresh read, then issues an ordered saga
// of independent writes: ticket first, then the source agent (so it is freed
// as early as possible), then the target agent, then the derivation record.
// Audit and notification come last and never fail the operation.
package derivation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/turno/internal/audit"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/notify"
	"github.com/ashita-ai/turno/internal/saga"
	"github.com/ashita-ai/turno/internal/service/assignment"
	"github.com/ashita-ai/turno/internal/store"
	"github.com/ashita-ai/turno/internal/telemetry"
	"github.com/ashita-ai/turno/internal/validation"
)

// Config tunes the orchestrator.
type Config struct {
	// Now overrides time.Now.
	Now func() time.Time
}

// Orchestrator is the derivation service.
type Orchestrator struct {
	store    store.Store
	checker  *validation.Checker
	engine   *assignment.Engine
	notifier *notify.BestEffort
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time

	derivations  metric.Int64Counter
	sagaFailures metric.Int64Counter
	duration     metric.Float64Histogram
}

// New creates an Orchestrator. engine is used for the opportunistic
// pick-up after an agent finishes a ticket; notifier and rec may be nil.
func New(s store.Store, engine *assignment.Engine, notifier *notify.BestEffort, rec *audit.Recorder, logger *slog.Logger, cfg Config) *Orchestrator {
	if notifier == nil {
		notifier = notify.NewBestEffort(nil, logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	meter := telemetry.Meter("turno/derivation")
	derivations, _ := meter.Int64Counter("turno.derivations",
		metric.WithDescription("Tickets handed off to another agent or the general queue"),
	)
	sagaFailures, _ := meter.Int64Counter("turno.saga.failures",
		metric.WithDescription("Multi-step workflows that stopped part-way"),
	)
	duration, _ := meter.Float64Histogram("turno.workflow.duration",
		metric.WithDescription("Time to run a dispatch workflow (ms)"),
		metric.WithUnit("ms"),
	)
	return &Orchestrator{
		store:        s,
		checker:      validation.NewChecker(s),
		engine:       engine,
		notifier:     notifier,
		audit:        rec,
		logger:       logger,
		now:          cfg.Now,
		derivations:  derivations,
		sagaFailures: sagaFailures,
		duration:     duration,
	}
}

// Result is the outcome of a derivation.
type Result struct {
	Ticket model.Ticket
	Record model.DerivationRecord
	// Immediate is true when the target started serving the ticket at once,
	// false when it landed in a personal or the general queue.
	Immediate bool
}

// Outcome is the outcome of a terminal or recall transition.
type Outcome struct {
	Ticket model.Ticket
	// Next is the ticket the agent picked up afterwards, if any.
	Next *model.Ticket
}

func (o *Orchestrator) run(ctx context.Context, workflow string, steps ...saga.Step) error {
	err := saga.Run(ctx, workflow, steps...)
	if err == nil {
		return nil
	}
	var serr *saga.Error
	if errors.As(err, &serr) {
		o.sagaFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow", workflow),
			attribute.String("step", serr.Step),
		))
		o.logger.Error("derivation: workflow stopped part-way",
			"workflow", workflow, "step", serr.Step, "committed", serr.Completed, "error", serr.Err)
	}
	return fmt.Errorf("derivation: %w", err)
}

func (o *Orchestrator) observe(ctx context.Context, workflow string, start time.Time) {
	o.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("workflow", workflow)))
}

// freeSource builds the patch that releases the source agent after a hand-off.
// currentTicketId is only cleared when it still points at this ticket.
func freeSource(source model.Employee, ticketID uuid.UUID) model.EmployeePatch {
	p := model.EmployeePatch{
		Availability: model.Set(model.NextAvailability(source.Availability, model.EventPause)),
	}
	if source.CurrentTicketID != nil && *source.CurrentTicketID == ticketID {
		p.CurrentTicketID = model.Clear[uuid.UUID]()
	}
	return p
}

// release builds the patch for an agent whose ticket reached a terminal state.
func release(agent model.Employee, ticketID uuid.UUID) model.EmployeePatch {
	var p model.EmployeePatch
	if agent.CurrentTicketID != nil && *agent.CurrentTicketID == ticketID {
		p.CurrentTicketID = model.Clear[uuid.UUID]()
	}
	return p
}

// pickUpNext gives agentID its next ticket after it finished one, when the
// agent processes its queue automatically. Failures are logged: the
// transition that triggered it already committed.
func (o *Orchestrator) pickUpNext(ctx context.Context, agentID uuid.UUID) *model.Ticket {
	if o.engine == nil {
		return nil
	}
	agent, err := o.store.GetEmployee(ctx, agentID)
	if err != nil {
		o.logger.Warn("derivation: re-read agent for pick-up", "agent_id", agentID, "error", err)
		return nil
	}
	if !agent.AutoProcessPersonalQueue || !agent.Free() {
		return nil
	}
	t, ok, err := o.engine.AutoAssignNextTicket(context.WithoutCancel(ctx), agentID)
	switch {
	case errors.Is(err, model.ErrAgentBusy), errors.Is(err, model.ErrAgentInactive):
		return nil
	case err != nil:
		o.logger.Warn("derivation: pick up next ticket", "agent_id", agentID, "error", err)
		return nil
	case !ok:
		return nil
	}
	return &t
}
