// Package reconcile repairs the cross-entity state a partially applied
// workflow can leave behind.
//
// Workflows write tickets and agents as independent commits, so a crash or
// store error between steps can leave an agent pointing at a ticket it no
// longer serves, or a ticket being served by an agent that does not know it.
// The ticket is the source of truth: a Run makes every agent's
// currentTicketId agree with the tickets marked being_served by that agent.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/turno/internal/index"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/service/assignment"
	"github.com/ashita-ai/turno/internal/store"
	"github.com/ashita-ai/turno/internal/telemetry"
)

// Report summarises one reconciliation pass.
type Report struct {
	LegacyNormalized int `json:"legacy_normalized"`
	AgentsLinked     int `json:"agents_linked"`
	StaleCleared     int `json:"stale_cleared"`
	// Orphaned counts being_served tickets whose agent no longer exists.
	// They are reported, not repaired; ForceComplete closes them.
	Orphaned int `json:"orphaned"`
	Assigned int `json:"assigned"`
	Failed   int `json:"failed"`

	Duration time.Duration `json:"duration"`
}

// Repairs is the number of writes the pass made.
func (r Report) Repairs() int {
	return r.LegacyNormalized + r.AgentsLinked + r.StaleCleared
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	store  store.Store
	engine *assignment.Engine
	logger *slog.Logger
	sweep  bool

	repairs metric.Int64Counter
}

// New creates a Reconciler. When sweep is true and engine is non-nil, every
// agent left free after the repairs is offered its next ticket, which covers
// agents that were already free before the event-driven trigger started.
func New(s store.Store, engine *assignment.Engine, sweep bool, logger *slog.Logger) *Reconciler {
	repairs, _ := telemetry.Meter("turno/reconcile").Int64Counter("turno.reconcile.repairs",
		metric.WithDescription("Records rewritten by the reconciler"),
	)
	return &Reconciler{store: s, engine: engine, logger: logger, sweep: sweep, repairs: repairs}
}

// Run performs one pass. Individual write failures are counted and logged;
// only a failure to read the current state aborts the pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	// 1. Rewrite legacy rows.
	if ll, ok := r.store.(store.LegacyLister); ok {
		legacy, err := ll.ListLegacyTickets(ctx)
		if err != nil {
			return rep, fmt.Errorf("reconcile: list legacy tickets: %w", err)
		}
		for _, t := range legacy {
			if err := r.store.UpdateTicket(ctx, t.ID, legacyPatch(t)); err != nil {
				rep.Failed++
				r.logger.Warn("reconcile: normalise legacy ticket", "ticket_id", t.ID, "error", err)
				continue
			}
			rep.LegacyNormalized++
		}
	}

	// 2. One consistent read of both sets.
	snap, err := index.Load(ctx, r.store)
	if err != nil {
		return rep, fmt.Errorf("reconcile: load: %w", err)
	}

	// 3. Which ticket is each agent serving, according to the tickets.
	serving := make(map[uuid.UUID]model.Ticket)
	known := make(map[uuid.UUID]bool, len(snap.Employees))
	for _, e := range snap.Employees {
		known[e.ID] = true
	}
	for _, t := range snap.Tickets {
		if t.Status != model.StatusBeingServed || t.ServedBy == nil {
			continue
		}
		agentID := *t.ServedBy
		if !known[agentID] {
			rep.Orphaned++
			r.logger.Warn("reconcile: ticket served by unknown agent",
				"ticket_id", t.ID, "ticket_number", t.Number, "agent_id", agentID)
			continue
		}
		if prev, dup := serving[agentID]; dup {
			r.logger.Warn("reconcile: agent serving more than one ticket",
				"agent_id", agentID, "kept", prev.ID, "ignored", t.ID)
			continue
		}
		serving[agentID] = t
	}

	// 4. Point every agent at the ticket it serves, or at nothing.
	for i, e := range snap.Employees {
		want, has := serving[e.ID]
		var patch model.EmployeePatch
		switch {
		case has && (e.CurrentTicketID == nil || *e.CurrentTicketID != want.ID):
			patch.CurrentTicketID = model.Set(want.ID)
		case !has && e.CurrentTicketID != nil:
			patch.CurrentTicketID = model.Clear[uuid.UUID]()
		default:
			continue
		}
		if err := r.store.UpdateEmployee(ctx, e.ID, patch); err != nil {
			rep.Failed++
			r.logger.Warn("reconcile: repair agent", "agent_id", e.ID, "error", err)
			continue
		}
		if e.CurrentTicketID == nil {
			rep.AgentsLinked++
		} else {
			rep.StaleCleared++
		}
		patch.Apply(&snap.Employees[i])
		r.logger.Info("reconcile: repaired agent", "agent_id", e.ID,
			"current_ticket_id", snap.Employees[i].CurrentTicketID)
	}

	// 5. Offer free agents their next ticket.
	if r.sweep && r.engine != nil {
		for _, e := range snap.Employees {
			if !e.Free() {
				continue
			}
			_, ok, err := r.engine.AutoAssignNextTicket(ctx, e.ID)
			switch {
			case errors.Is(err, model.ErrAgentBusy), errors.Is(err, model.ErrAgentInactive):
			case err != nil:
				rep.Failed++
				r.logger.Warn("reconcile: sweep agent", "agent_id", e.ID, "error", err)
			case ok:
				rep.Assigned++
			}
		}
	}

	rep.Duration = time.Since(start)
	if n := rep.Repairs(); n > 0 {
		r.repairs.Add(ctx, int64(n), metric.WithAttributes(attribute.Bool("sweep", r.sweep)))
	}
	r.logger.Info("reconcile: pass complete",
		"legacy_normalized", rep.LegacyNormalized,
		"agents_linked", rep.AgentsLinked,
		"stale_cleared", rep.StaleCleared,
		"orphaned", rep.Orphaned,
		"assigned", rep.Assigned,
		"failed", rep.Failed,
		"duration_ms", rep.Duration.Milliseconds())
	return rep, nil
}

// Schedule registers a pass on c for every tick of spec. Each pass gets its
// own timeout; overlapping ticks are skipped if c was built with
// cron.SkipIfStillRunning.
func (r *Reconciler) Schedule(c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("reconcile: scheduled pass failed", "error", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: schedule %q: %w", spec, err)
	}
	return id, nil
}

// legacyPatch turns a legacy row into the patch that stores its normalised form.
func legacyPatch(t model.Ticket) model.TicketPatch {
	n := t
	n.NormalizeLegacy()
	return model.TicketPatch{
		Status:             model.Set(n.Status),
		QueueType:          model.SetPtr(n.QueueType),
		AssignedToEmployee: model.SetPtr(n.AssignedToEmployee),
		QueuedForEmployee:  model.Clear[uuid.UUID](),
		ServedBy:           model.Clear[uuid.UUID](),
		ServedAt:           model.Clear[time.Time](),
	}
}
