package derivation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/saga"
	"github.com/ashita-ai/turno/internal/validation"
)

// Complete finishes a ticket the agent is serving, bumps the agent's served
// counter, and hands the agent its next ticket when it auto-processes.
func (o *Orchestrator) Complete(ctx context.Context, ticketID, agentID uuid.UUID) (Outcome, error) {
	start := time.Now()
	defer o.observe(ctx, "complete", start)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("turno.ticket_id", ticketID.String()),
		attribute.String("turno.agent_id", agentID.String()),
	)

	ticket, agent, err := o.servingPair(ctx, ticketID, agentID)
	if err != nil {
		return Outcome{}, err
	}

	now := o.now().UTC()
	patch := model.TicketPatch{
		Status:      model.Set(model.StatusCompleted),
		CompletedAt: model.Set(now),
		ServiceTime: model.Set(model.Seconds(*ticket.ServedAt, now)),
		TotalTime:   model.Set(model.Seconds(ticket.CreatedAt, now)),
	}
	agentPatch := release(agent, ticket.ID)
	agentPatch.ServedDelta = 1

	err = o.run(ctx, "complete",
		saga.Step{Name: "ticket", Do: func(ctx context.Context) error { return o.store.UpdateTicket(ctx, ticket.ID, patch) }},
		saga.Step{Name: "agent", Do: func(ctx context.Context) error { return o.store.UpdateEmployee(ctx, agent.ID, agentPatch) }},
	)
	if err != nil {
		return Outcome{}, err
	}
	patch.Apply(&ticket)
	o.logger.Info("derivation: ticket completed",
		"ticket_id", ticket.ID, "ticket_number", ticket.Number, "agent_id", agent.ID)

	return Outcome{Ticket: ticket, Next: o.pickUpNext(ctx, agent.ID)}, nil
}

// Cancel abandons a ticket being served, bumps the serving agent's cancelled
// counter, and hands the agent its next ticket when it auto-processes.
func (o *Orchestrator) Cancel(ctx context.Context, in model.CancelTicket) (Outcome, error) {
	start := time.Now()
	defer o.observe(ctx, "cancel", start)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("turno.ticket_id", in.TicketID.String()))

	if err := validation.Struct(in); err != nil {
		return Outcome{}, err
	}
	ticket, err := o.store.GetTicket(ctx, in.TicketID)
	if err != nil {
		return Outcome{}, fmt.Errorf("derivation: get ticket: %w", err)
	}
	if ticket.Status != model.StatusBeingServed || ticket.ServedBy == nil {
		return Outcome{}, fmt.Errorf("derivation: ticket %s is %s: %w",
			ticket.ID, ticket.Status, model.ErrInvalidTicketState)
	}
	agent, err := o.store.GetEmployee(ctx, *ticket.ServedBy)
	if err != nil {
		return Outcome{}, fmt.Errorf("derivation: get serving agent: %w", err)
	}

	now := o.now().UTC()
	patch := model.TicketPatch{
		Status:              model.Set(model.StatusCancelled),
		CancelledAt:         model.Set(now),
		CancellationReason:  model.Set(in.Reason),
		CancellationComment: model.SetPtr(in.Comment),
		CancelledBy:         model.Set(in.CancelledBy),
		TotalTime:           model.Set(model.Seconds(ticket.CreatedAt, now)),
	}
	if ticket.ServedAt != nil {
		patch.ServiceTime = model.Set(model.Seconds(*ticket.ServedAt, now))
	}
	agentPatch := release(agent, ticket.ID)
	agentPatch.CancelledDelta = 1

	err = o.run(ctx, "cancel",
		saga.Step{Name: "ticket", Do: func(ctx context.Context) error { return o.store.UpdateTicket(ctx, ticket.ID, patch) }},
		saga.Step{Name: "agent", Do: func(ctx context.Context) error { return o.store.UpdateEmployee(ctx, agent.ID, agentPatch) }},
	)
	if err != nil {
		return Outcome{}, err
	}
	patch.Apply(&ticket)
	o.logger.Info("derivation: ticket cancelled",
		"ticket_id", ticket.ID, "ticket_number", ticket.Number, "agent_id", agent.ID, "reason", in.Reason)

	return Outcome{Ticket: ticket, Next: o.pickUpNext(ctx, agent.ID)}, nil
}

// Recall puts a completed or cancelled ticket back into service with agentID,
// which must exist and not be serving anything. The agent becomes active.
func (o *Orchestrator) Recall(ctx context.Context, ticketID, agentID uuid.UUID) (Outcome, error) {
	start := time.Now()
	defer o.observe(ctx, "recall", start)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("turno.ticket_id", ticketID.String()),
		attribute.String("turno.agent_id", agentID.String()),
	)

	ticket, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		return Outcome{}, fmt.Errorf("derivation: get ticket: %w", err)
	}
	if !ticket.Status.Terminal() {
		return Outcome{}, fmt.Errorf("derivation: ticket %s is %s: %w",
			ticket.ID, ticket.Status, model.ErrInvalidTicketState)
	}
	agent, err := o.store.GetEmployee(ctx, agentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("derivation: get agent: %w", err)
	}
	if agent.Busy() {
		return Outcome{}, fmt.Errorf("derivation: agent %s: %w", agent.ID, model.ErrAgentBusy)
	}

	now := o.now().UTC()
	patch := model.TicketPatch{
		Status:              model.Set(model.StatusBeingServed),
		ServedBy:            model.Set(agent.ID),
		ServedAt:            model.Set(now),
		QueueType:           model.Clear[model.QueueType](),
		AssignedToEmployee:  model.Clear[uuid.UUID](),
		CompletedAt:         model.Clear[time.Time](),
		CancelledAt:         model.Clear[time.Time](),
		ServiceTime:         model.Clear[int64](),
		TotalTime:           model.Clear[int64](),
		CancellationReason:  model.Clear[string](),
		CancellationComment: model.Clear[string](),
		CancelledBy:         model.Clear[uuid.UUID](),
	}
	agentPatch := model.EmployeePatch{
		CurrentTicketID: model.Set(ticket.ID),
		Availability:    model.Set(model.NextAvailability(agent.Availability, model.EventAssign)),
	}

	err = o.run(ctx, "recall",
		saga.Step{Name: "ticket", Do: func(ctx context.Context) error { return o.store.UpdateTicket(ctx, ticket.ID, patch) }},
		saga.Step{Name: "agent", Do: func(ctx context.Context) error { return o.store.UpdateEmployee(ctx, agent.ID, agentPatch) }},
	)
	if err != nil {
		return Outcome{}, err
	}
	patch.Apply(&ticket)
	o.logger.Info("derivation: ticket recalled",
		"ticket_id", ticket.ID, "ticket_number", ticket.Number, "agent_id", agent.ID)
	o.notifier.Send(ctx, model.Notification{
		Kind:        model.NotifyTicketRecalled,
		Title:       "Ticket recalled",
		Body:        fmt.Sprintf("Ticket #%d is back in service", ticket.Number),
		TicketID:    ticket.ID,
		RecipientID: &agent.ID,
		At:          now,
	})
	return Outcome{Ticket: ticket}, nil
}

// ForceComplete closes any non-terminal ticket. Service time is zero unless
// the ticket has a serving agent. The serving agent, if any, is released, credited
// and paused; a serving agent that no longer exists is skipped with a warning.
func (o *Orchestrator) ForceComplete(ctx context.Context, ticketID uuid.UUID) (Outcome, error) {
	start := time.Now()
	defer o.observe(ctx, "force_complete", start)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("turno.ticket_id", ticketID.String()))

	ticket, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		return Outcome{}, fmt.Errorf("derivation: get ticket: %w", err)
	}
	if ticket.Status.Terminal() {
		return Outcome{}, fmt.Errorf("derivation: ticket %s is %s: %w",
			ticket.ID, ticket.Status, model.ErrInvalidTicketState)
	}

	now := o.now().UTC()
	var serviceTime int64
	if ticket.ServedBy != nil && ticket.ServedAt != nil {
		serviceTime = model.Seconds(*ticket.ServedAt, now)
	}
	total := model.Seconds(ticket.CreatedAt, now)
	patch := model.TicketPatch{
		Status:             model.Set(model.StatusCompleted),
		CompletedAt:        model.Set(now),
		ServiceTime:        model.Set(serviceTime),
		TotalTime:          model.Set(total),
		QueueType:          model.Clear[model.QueueType](),
		AssignedToEmployee: model.Clear[uuid.UUID](),
		QueuedForEmployee:  model.Clear[uuid.UUID](),
	}
	if ticket.WaitTime == nil {
		patch.WaitTime = model.Set(total)
	}
	steps := []saga.Step{
		{Name: "ticket", Do: func(ctx context.Context) error { return o.store.UpdateTicket(ctx, ticket.ID, patch) }},
	}

	var agent *model.Employee
	if ticket.ServedBy != nil {
		a, err := o.store.GetEmployee(ctx, *ticket.ServedBy)
		switch {
		case errors.Is(err, model.ErrNotFound):
			o.logger.Warn("derivation: serving agent missing on force-complete",
				"ticket_id", ticket.ID, "agent_id", *ticket.ServedBy)
		case err != nil:
			return Outcome{}, fmt.Errorf("derivation: get serving agent: %w", err)
		default:
			agent = &a
		}
	}
	if agent != nil {
		agentPatch := release(*agent, ticket.ID)
		agentPatch.ServedDelta = 1
		agentPatch.Availability = model.Set(model.NextAvailability(agent.Availability, model.EventPause))
		steps = append(steps, saga.Step{Name: "agent", Do: func(ctx context.Context) error {
			return o.store.UpdateEmployee(ctx, agent.ID, agentPatch)
		}})
	}

	if err := o.run(ctx, "force_complete", steps...); err != nil {
		return Outcome{}, err
	}
	patch.Apply(&ticket)
	o.logger.Info("derivation: ticket force-completed",
		"ticket_id", ticket.ID, "ticket_number", ticket.Number, "service_time", serviceTime)
	if agent != nil {
		o.notifier.Send(ctx, model.Notification{
			Kind:        model.NotifyTicketForceComplete,
			Title:       "Ticket force-completed",
			Body:        fmt.Sprintf("Ticket #%d was closed by a supervisor", ticket.Number),
			TicketID:    ticket.ID,
			RecipientID: &agent.ID,
			At:          now,
		})
	}
	return Outcome{Ticket: ticket}, nil
}

// servingPair loads a ticket and the agent that must be serving it.
func (o *Orchestrator) servingPair(ctx context.Context, ticketID, agentID uuid.UUID) (model.Ticket, model.Employee, error) {
	ticket, err := o.store.GetTicket(ctx, ticketID)
	if err != nil {
		return model.Ticket{}, model.Employee{}, fmt.Errorf("derivation: get ticket: %w", err)
	}
	if err := validation.ValidateSource(ticket, agentID); err != nil {
		return model.Ticket{}, model.Employee{}, err
	}
	if ticket.ServedAt == nil {
		return model.Ticket{}, model.Employee{}, fmt.Errorf("derivation: ticket %s has no service start: %w",
			ticket.ID, model.ErrInvalidTicketState)
	}
	agent, err := o.store.GetEmployee(ctx, agentID)
	if err != nil {
		return model.Ticket{}, model.Employee{}, fmt.Errorf("derivation: get agent: %w", err)
	}
	return ticket, agent, nil
}
