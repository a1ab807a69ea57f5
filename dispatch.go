package turno

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/turno/internal/ctxutil"
	"github.com/ashita-ai/turno/internal/queue"
	"github.com/ashita-ai/turno/internal/validation"
)

// WithActor tags ctx with who is acting. The actor is recorded with every
// audit entry written on behalf of calls made with the returned context.
func WithActor(ctx context.Context, id uuid.UUID, role string) context.Context {
	return ctxutil.WithActor(ctx, ctxutil.Actor{ID: id, Role: role})
}

// WithRequestID tags ctx with a caller-chosen request id for the audit log.
func WithRequestID(ctx context.Context, id string) context.Context {
	return ctxutil.WithRequestID(ctx, id)
}

// traced runs fn inside a span named name and records its error.
func traced[T any](ctx context.Context, a *App, name string, fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	ctx, span := a.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

func ticketAttr(id uuid.UUID) attribute.KeyValue { return attribute.String("ticket_id", id.String()) }
func agentAttr(id uuid.UUID) attribute.KeyValue  { return attribute.String("agent_id", id.String()) }

// CreateTicket validates in and stores a new waiting ticket in the general
// queue with the next number of the service day.
func (a *App) CreateTicket(ctx context.Context, in NewTicket) (Ticket, error) {
	return traced(ctx, a, "turno.CreateTicket", func(ctx context.Context) (Ticket, error) {
		if err := validation.Struct(in); err != nil {
			return Ticket{}, err
		}
		return a.store.CreateTicket(ctx, in)
	}, attribute.String("service_type", in.ServiceType))
}

// CreateEmployee validates in and stores a new agent.
func (a *App) CreateEmployee(ctx context.Context, in NewEmployee) (Employee, error) {
	return traced(ctx, a, "turno.CreateEmployee", func(ctx context.Context) (Employee, error) {
		if err := validation.Struct(in); err != nil {
			return Employee{}, err
		}
		return a.store.CreateEmployee(ctx, in)
	})
}

// Ticket returns a ticket by id.
func (a *App) Ticket(ctx context.Context, id uuid.UUID) (Ticket, error) {
	return a.store.GetTicket(ctx, id)
}

// Employee returns an agent by id.
func (a *App) Employee(ctx context.Context, id uuid.UUID) (Employee, error) {
	return a.store.GetEmployee(ctx, id)
}

// GeneralQueue returns the general queue in service order.
func (a *App) GeneralQueue(ctx context.Context) ([]Ticket, error) {
	snap, err := a.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return queue.GeneralQueue(snap.Tickets), nil
}

// PersonalQueue returns an agent's personal queue in service order.
func (a *App) PersonalQueue(ctx context.Context, agentID uuid.UUID) ([]Ticket, error) {
	snap, err := a.index.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return queue.PersonalQueue(snap.Tickets, agentID), nil
}

// PendingDerivations lists the personal-queue hand-offs waiting on an agent.
func (a *App) PendingDerivations(ctx context.Context, agentID uuid.UUID) ([]DerivationRecord, error) {
	return a.store.ListPendingForAgent(ctx, agentID)
}

// FindBestAvailableAgent returns the active agent with the lowest workload,
// or false when nobody can take a ticket right now.
func (a *App) FindBestAvailableAgent(ctx context.Context) (Employee, bool, error) {
	type found struct {
		e  Employee
		ok bool
	}
	f, err := traced(ctx, a, "turno.FindBestAvailableAgent", func(ctx context.Context) (found, error) {
		e, ok, err := a.engine.FindBestAvailableAgent(ctx)
		return found{e, ok}, err
	})
	return f.e, f.ok, err
}

// AutoAssignNewTicket hands a waiting general-queue ticket to the best
// available agent. It reports false, without error, when the ticket is not
// assignable or nobody is available.
func (a *App) AutoAssignNewTicket(ctx context.Context, ticketID uuid.UUID) (Assignment, bool, error) {
	type assigned struct {
		as Assignment
		ok bool
	}
	r, err := traced(ctx, a, "turno.AutoAssignNewTicket", func(ctx context.Context) (assigned, error) {
		as, ok, err := a.engine.AutoAssignNewTicket(ctx, ticketID)
		return assigned{as, ok}, err
	}, ticketAttr(ticketID))
	return r.as, r.ok, err
}

// AutoAssignNextTicket hands a free agent the head of its personal queue, or
// of the general queue when the personal one is empty.
func (a *App) AutoAssignNextTicket(ctx context.Context, agentID uuid.UUID) (Ticket, bool, error) {
	type picked struct {
		t  Ticket
		ok bool
	}
	r, err := traced(ctx, a, "turno.AutoAssignNextTicket", func(ctx context.Context) (picked, error) {
		t, ok, err := a.engine.AutoAssignNextTicket(ctx, agentID)
		return picked{t, ok}, err
	}, agentAttr(agentID))
	return r.t, r.ok, err
}

// SetAvailability applies an availability event (activate, pause,
// deactivate) to an agent.
func (a *App) SetAvailability(ctx context.Context, agentID uuid.UUID, ev AvailabilityEvent) (AvailabilityResult, error) {
	return traced(ctx, a, "turno.SetAvailability", func(ctx context.Context) (AvailabilityResult, error) {
		return a.engine.SetAvailability(ctx, agentID, ev)
	}, agentAttr(agentID), attribute.String("event", string(ev)))
}

// DeriveToEmployee hands a ticket being served to another agent, directly
// when that agent is free, otherwise into its personal queue.
func (a *App) DeriveToEmployee(ctx context.Context, in DeriveToEmployee) (DerivationResult, error) {
	return traced(ctx, a, "turno.DeriveToEmployee", func(ctx context.Context) (DerivationResult, error) {
		return a.orch.DeriveToEmployee(ctx, in)
	}, ticketAttr(in.TicketID), agentAttr(in.ToEmployeeID))
}

// DeriveToGeneralQueue returns a ticket being served to the general queue.
func (a *App) DeriveToGeneralQueue(ctx context.Context, in DeriveToGeneralQueue) (DerivationResult, error) {
	return traced(ctx, a, "turno.DeriveToGeneralQueue", func(ctx context.Context) (DerivationResult, error) {
		return a.orch.DeriveToGeneralQueue(ctx, in)
	}, ticketAttr(in.TicketID))
}

// AcceptDerivation accepts a pending personal-queue hand-off.
func (a *App) AcceptDerivation(ctx context.Context, derivationID uuid.UUID) (DerivationResult, error) {
	return traced(ctx, a, "turno.AcceptDerivation", func(ctx context.Context) (DerivationResult, error) {
		return a.orch.AcceptDerivation(ctx, derivationID)
	}, attribute.String("derivation_id", derivationID.String()))
}

// RejectDerivation rejects a pending personal-queue hand-off.
func (a *App) RejectDerivation(ctx context.Context, derivationID uuid.UUID) (DerivationResult, error) {
	return traced(ctx, a, "turno.RejectDerivation", func(ctx context.Context) (DerivationResult, error) {
		return a.orch.RejectDerivation(ctx, derivationID)
	}, attribute.String("derivation_id", derivationID.String()))
}

// Complete finishes the ticket an agent is serving.
func (a *App) Complete(ctx context.Context, ticketID, agentID uuid.UUID) (Outcome, error) {
	return traced(ctx, a, "turno.Complete", func(ctx context.Context) (Outcome, error) {
		return a.orch.Complete(ctx, ticketID, agentID)
	}, ticketAttr(ticketID), agentAttr(agentID))
}

// Cancel cancels a ticket being served.
func (a *App) Cancel(ctx context.Context, in CancelTicket) (Outcome, error) {
	return traced(ctx, a, "turno.Cancel", func(ctx context.Context) (Outcome, error) {
		return a.orch.Cancel(ctx, in)
	}, ticketAttr(in.TicketID))
}

// Recall brings a completed or cancelled ticket back into service with the
// given agent.
func (a *App) Recall(ctx context.Context, ticketID, agentID uuid.UUID) (Outcome, error) {
	return traced(ctx, a, "turno.Recall", func(ctx context.Context) (Outcome, error) {
		return a.orch.Recall(ctx, ticketID, agentID)
	}, ticketAttr(ticketID), agentAttr(agentID))
}

// ForceComplete completes a ticket from any non-terminal state.
func (a *App) ForceComplete(ctx context.Context, ticketID uuid.UUID) (Outcome, error) {
	return traced(ctx, a, "turno.ForceComplete", func(ctx context.Context) (Outcome, error) {
		return a.orch.ForceComplete(ctx, ticketID)
	}, ticketAttr(ticketID))
}

// Reconcile runs one reconciliation pass now.
func (a *App) Reconcile(ctx context.Context) (ReconcileReport, error) {
	return traced(ctx, a, "turno.Reconcile", a.recon.Run)
}
