package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/ratelimit"
)

// AvailabilityResult is the outcome of an availability change.
type AvailabilityResult struct {
	Agent model.Employee
	// Assigned is the ticket handed to the agent after it became free, if any.
	Assigned *model.Ticket
}

// SetAvailability applies an availability event to an agent. When the agent
// ends up active and free it immediately tries to pick up the next ticket.
//
// Repeating the same event for the same agent faster than the repeat guard
// allows fails with model.ErrTooFrequent before anything is written.
func (e *Engine) SetAvailability(ctx context.Context, agentID uuid.UUID, ev model.AvailabilityEvent) (AvailabilityResult, error) {
	start := time.Now()
	defer e.observe(ctx, "set_availability", start)

	if ev == model.EventAssign {
		return AvailabilityResult{}, fmt.Errorf("assignment: %q is not a user event: %w", ev, model.ErrInvalidInput)
	}
	if err := ratelimit.Check(ctx, e.guard, fmt.Sprintf("availability:%s:%s", agentID, ev)); err != nil {
		return AvailabilityResult{}, err
	}

	// 1. Fresh read and transition.
	agent, err := e.store.GetEmployee(ctx, agentID)
	if err != nil {
		return AvailabilityResult{}, fmt.Errorf("assignment: get agent: %w", err)
	}
	want := model.NextAvailability(agent.Availability, ev)

	// 2. Write only when something changes.
	if want != agent.Availability {
		if err := e.store.UpdateEmployee(ctx, agentID, model.EmployeePatch{Availability: model.Set(want)}); err != nil {
			return AvailabilityResult{}, fmt.Errorf("assignment: update availability: %w", err)
		}
		e.logger.Info("assignment: availability changed",
			"agent_id", agentID, "from", agent.Availability, "to", want, "event", ev)
	}

	// 3. Settle: re-read until our own write is visible.
	agent, err = e.settle(ctx, agentID, want)
	if err != nil {
		return AvailabilityResult{}, err
	}
	res := AvailabilityResult{Agent: agent}
	if !agent.Free() {
		return res, nil
	}

	// 4. Opportunistic pick-up.
	t, ok, err := e.AutoAssignNextTicket(ctx, agentID)
	switch {
	case errors.Is(err, model.ErrAgentBusy), errors.Is(err, model.ErrAgentInactive):
		// Someone else changed the agent in the meantime.
	case err != nil:
		return res, err
	case ok:
		res.Assigned = &t
		if fresh, err := e.store.GetEmployee(ctx, agentID); err == nil {
			res.Agent = fresh
		}
	}
	return res, nil
}

// settle re-reads agentID until its availability reads back as want, up to
// settleAttempts times. The last read is returned even when it never matches;
// a concurrent writer may legitimately have moved the agent on.
func (e *Engine) settle(ctx context.Context, agentID uuid.UUID, want model.Availability) (model.Employee, error) {
	var (
		agent model.Employee
		err   error
	)
	for attempt := range e.settleAttempts {
		agent, err = e.store.GetEmployee(ctx, agentID)
		if err != nil {
			return model.Employee{}, fmt.Errorf("assignment: settle agent: %w", err)
		}
		if agent.Availability == want {
			return agent, nil
		}
		if attempt == e.settleAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return model.Employee{}, fmt.Errorf("assignment: settle agent: %w", ctx.Err())
		case <-time.After(e.settleDelay):
		}
	}
	e.logger.Warn("assignment: availability did not settle",
		"agent_id", agentID, "want", want, "got", agent.Availability)
	return agent, nil
}
