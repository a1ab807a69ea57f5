package derivation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/turno/internal/audit"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/saga"
	"github.com/ashita-ai/turno/internal/validation"
)

// DeriveToEmployee hands a ticket being served to another agent. When the
// target is free the ticket moves straight to it; when the target is busy the
// ticket waits at the tail of its personal queue (priority high unless given).
func (o *Orchestrator) DeriveToEmployee(ctx context.Context, in model.DeriveToEmployee) (Result, error) {
	start := time.Now()
	defer o.observe(ctx, "derive_to_employee", start)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("turno.ticket_id", in.TicketID.String()),
		attribute.String("turno.from_agent_id", in.FromEmployeeID.String()),
		attribute.String("turno.to_agent_id", in.ToEmployeeID.String()),
	)

	// 1. Input and fresh-state validation.
	if err := validation.Struct(in); err != nil {
		return Result{}, err
	}
	if in.FromEmployeeID == in.ToEmployeeID {
		return Result{}, fmt.Errorf("derivation: agent %s: %w", in.ToEmployeeID, model.ErrSelfDerivation)
	}
	st, err := o.checker.CheckDerivation(ctx, in.TicketID, in.ToEmployeeID)
	if err != nil {
		return Result{}, err
	}
	if err := validation.ValidateSource(st.Ticket, in.FromEmployeeID); err != nil {
		return Result{}, err
	}
	source, err := o.store.GetEmployee(ctx, in.FromEmployeeID)
	if err != nil {
		return Result{}, fmt.Errorf("derivation: get source agent: %w", err)
	}
	ticket, target := st.Ticket, st.Target
	immediate := target.Free()

	// 2. Build every write up front.
	now := o.now().UTC()
	base := model.TicketPatch{
		DerivedFrom:       model.Set(source.ID),
		DerivedTo:         model.Set(target.ID),
		DerivedAt:         model.Set(now),
		DerivationReason:  model.Set(in.Reason),
		DerivationComment: model.SetPtr(in.Comment),
	}
	if in.NewServiceType != nil {
		base.ServiceType = model.Set(*in.NewServiceType)
	}
	if in.Priority != nil {
		base.Priority = model.Set(*in.Priority)
	}
	served := base
	served.Status = model.Set(model.StatusBeingServed)
	served.ServedBy = model.Set(target.ID)
	served.ServedAt = model.Set(now)
	served.QueueType = model.Clear[model.QueueType]()
	served.AssignedToEmployee = model.Clear[uuid.UUID]()

	queued := base
	queued.Status = model.Set(model.StatusWaiting)
	queued.QueueType = model.Set(model.QueuePersonal)
	queued.AssignedToEmployee = model.Set(target.ID)
	queued.ServedBy = model.Clear[uuid.UUID]()
	queued.ServedAt = model.Clear[time.Time]()
	if in.Priority == nil {
		queued.Priority = model.Set(model.PriorityHigh)
	}

	rec := model.DerivationRecord{
		TicketID:       ticket.ID,
		FromEmployeeID: source.ID,
		ToEmployeeID:   &target.ID,
		Type:           model.DerivationToEmployee,
		Reason:         in.Reason,
		Comment:        in.Comment,
		NewServiceType: in.NewServiceType,
		DerivedAt:      now,
		Status:         model.DerivationPending,
	}
	patch := queued
	if immediate {
		patch = served
		rec.Status = model.DerivationAutoAssigned
	}
	var targetPatch model.EmployeePatch
	sourcePatch := freeSource(source, ticket.ID)

	// 3. Saga: ticket, source agent, target agent, record.
	steps := []saga.Step{
		{Name: "ticket", Do: func(ctx context.Context) error { return o.store.UpdateTicket(ctx, ticket.ID, patch) }},
		{Name: "source_agent", Do: func(ctx context.Context) error { return o.store.UpdateEmployee(ctx, source.ID, sourcePatch) }},
	}
	if immediate {
		steps = append(steps, saga.Step{Name: "target_agent", Do: func(ctx context.Context) error {
			// Re-read right before the assignment write. A target that took
			// other work since validation gets the ticket in its personal queue.
			fresh, err := o.store.GetEmployee(ctx, target.ID)
			if err != nil {
				return err
			}
			target = fresh
			if !fresh.Free() {
				immediate = false
				patch = queued
				rec.Status = model.DerivationPending
				return o.store.UpdateTicket(ctx, ticket.ID, queued)
			}
			targetPatch = model.EmployeePatch{
				CurrentTicketID: model.Set(ticket.ID),
				Availability:    model.Set(model.NextAvailability(fresh.Availability, model.EventAssign)),
			}
			return o.store.UpdateEmployee(ctx, target.ID, targetPatch)
		}})
	}
	steps = append(steps, saga.Step{Name: "record", Do: func(ctx context.Context) error {
		created, err := o.store.CreateDerivation(ctx, rec)
		if err != nil {
			return err
		}
		rec = created
		return nil
	}})
	if err := o.run(ctx, "derive_to_employee", steps...); err != nil {
		return Result{}, err
	}

	// 4. Side effects.
	patch.Apply(&ticket)
	sourcePatch.Apply(&source)
	if immediate {
		targetPatch.Apply(&target)
	}
	mode := "personal_queue"
	if immediate {
		mode = "immediate"
	}
	o.derivations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(model.DerivationToEmployee)),
		attribute.String("mode", mode),
	))
	o.logger.Info("derivation: ticket derived to agent",
		"ticket_id", ticket.ID, "ticket_number", ticket.Number,
		"from", source.ID, "to", target.ID, "mode", mode)

	o.audit.Record(ctx, audit.Entry{Record: rec, Ticket: ticket, Source: source, Target: &target})
	n := model.Notification{
		Kind:        model.NotifyTicketDerived,
		Title:       "Ticket derived to you",
		Body:        fmt.Sprintf("Ticket #%d from %s: %s", ticket.Number, source.Name, in.Reason),
		TicketID:    ticket.ID,
		RecipientID: &target.ID,
		At:          now,
	}
	if !immediate {
		n.Kind = model.NotifyPersonalQueue
		n.Title = "Ticket added to your queue"
	}
	o.notifier.Send(ctx, n)

	return Result{Ticket: ticket, Record: rec, Immediate: immediate}, nil
}

// DeriveToGeneralQueue returns a ticket being served to the general queue
// (priority normal unless given) and frees the agent that was serving it.
func (o *Orchestrator) DeriveToGeneralQueue(ctx context.Context, in model.DeriveToGeneralQueue) (Result, error) {
	start := time.Now()
	defer o.observe(ctx, "derive_to_general_queue", start)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("turno.ticket_id", in.TicketID.String()),
		attribute.String("turno.from_agent_id", in.FromEmployeeID.String()),
	)

	// 1. Validation.
	if err := validation.Struct(in); err != nil {
		return Result{}, err
	}
	ticket, err := o.checker.CheckDerivationToQueue(ctx, in.TicketID)
	if err != nil {
		return Result{}, err
	}
	if err := validation.ValidateSource(ticket, in.FromEmployeeID); err != nil {
		return Result{}, err
	}
	source, err := o.store.GetEmployee(ctx, in.FromEmployeeID)
	if err != nil {
		return Result{}, fmt.Errorf("derivation: get source agent: %w", err)
	}

	// 2. Writes.
	now := o.now().UTC()
	priority := model.PriorityNormal
	if in.Priority != nil {
		priority = *in.Priority
	}
	patch := model.TicketPatch{
		Status:             model.Set(model.StatusWaiting),
		QueueType:          model.Set(model.QueueGeneral),
		AssignedToEmployee: model.Clear[uuid.UUID](),
		ServedBy:           model.Clear[uuid.UUID](),
		ServedAt:           model.Clear[time.Time](),
		DerivedFrom:        model.Set(source.ID),
		DerivedTo:          model.Clear[uuid.UUID](),
		DerivedAt:          model.Set(now),
		DerivationReason:   model.Set(in.Reason),
		DerivationComment:  model.SetPtr(in.Comment),
		Priority:           model.Set(priority),
	}
	if in.NewServiceType != nil {
		patch.ServiceType = model.Set(*in.NewServiceType)
	}
	sourcePatch := freeSource(source, ticket.ID)
	rec := model.DerivationRecord{
		TicketID:       ticket.ID,
		FromEmployeeID: source.ID,
		Type:           model.DerivationToGeneralQueue,
		Reason:         in.Reason,
		Comment:        in.Comment,
		NewServiceType: in.NewServiceType,
		DerivedAt:      now,
		Status:         model.DerivationAutoAssigned,
	}

	// 3. Saga: ticket, source agent, record.
	err = o.run(ctx, "derive_to_general_queue",
		saga.Step{Name: "ticket", Do: func(ctx context.Context) error { return o.store.UpdateTicket(ctx, ticket.ID, patch) }},
		saga.Step{Name: "source_agent", Do: func(ctx context.Context) error { return o.store.UpdateEmployee(ctx, source.ID, sourcePatch) }},
		saga.Step{Name: "record", Do: func(ctx context.Context) error {
			created, err := o.store.CreateDerivation(ctx, rec)
			if err != nil {
				return err
			}
			rec = created
			return nil
		}},
	)
	if err != nil {
		return Result{}, err
	}

	// 4. Side effects.
	patch.Apply(&ticket)
	sourcePatch.Apply(&source)
	o.derivations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(model.DerivationToGeneralQueue)),
		attribute.String("mode", "general_queue"),
	))
	o.logger.Info("derivation: ticket returned to general queue",
		"ticket_id", ticket.ID, "ticket_number", ticket.Number, "from", source.ID)
	o.audit.Record(ctx, audit.Entry{Record: rec, Ticket: ticket, Source: source})
	o.notifier.Send(ctx, model.Notification{
		Kind:     model.NotifyReturnedToQueue,
		Title:    "Ticket back in the queue",
		Body:     fmt.Sprintf("Ticket #%d was returned to the general queue: %s", ticket.Number, in.Reason),
		TicketID: ticket.ID,
		At:       now,
	})
	return Result{Ticket: ticket, Record: rec}, nil
}

// AcceptDerivation marks a pending personal-queue derivation accepted. If the
// target is free and the ticket still waits in its queue, the target starts
// serving it straight away.
func (o *Orchestrator) AcceptDerivation(ctx context.Context, derivationID uuid.UUID) (Result, error) {
	start := time.Now()
	defer o.observe(ctx, "accept_derivation", start)

	rec, err := o.pendingRecord(ctx, derivationID)
	if err != nil {
		return Result{}, err
	}
	if err := o.store.UpdateDerivationStatus(ctx, rec.ID, model.DerivationAccepted); err != nil {
		return Result{}, fmt.Errorf("derivation: accept: %w", err)
	}
	rec.Status = model.DerivationAccepted

	ticket, err := o.store.GetTicket(ctx, rec.TicketID)
	if err != nil {
		return Result{}, fmt.Errorf("derivation: get ticket: %w", err)
	}
	res := Result{Ticket: ticket, Record: rec}
	if o.engine == nil || !ticket.InPersonalQueueOf(*rec.ToEmployeeID) {
		return res, nil
	}
	target, err := o.store.GetEmployee(ctx, *rec.ToEmployeeID)
	if err != nil {
		return Result{}, fmt.Errorf("derivation: get target agent: %w", err)
	}
	if !target.Free() {
		return res, nil
	}
	a, err := o.engine.Assign(ctx, "accept_derivation", ticket, target)
	if err != nil {
		return Result{}, err
	}
	res.Ticket = a.Ticket
	res.Immediate = true
	return res, nil
}

// RejectDerivation marks a pending personal-queue derivation rejected and, if
// the ticket still waits in the target's queue, returns it to the general queue.
func (o *Orchestrator) RejectDerivation(ctx context.Context, derivationID uuid.UUID) (Result, error) {
	start := time.Now()
	defer o.observe(ctx, "reject_derivation", start)

	rec, err := o.pendingRecord(ctx, derivationID)
	if err != nil {
		return Result{}, err
	}
	ticket, err := o.store.GetTicket(ctx, rec.TicketID)
	if err != nil {
		return Result{}, fmt.Errorf("derivation: get ticket: %w", err)
	}
	requeue := ticket.InPersonalQueueOf(*rec.ToEmployeeID)
	patch := model.TicketPatch{
		QueueType:          model.Set(model.QueueGeneral),
		AssignedToEmployee: model.Clear[uuid.UUID](),
		DerivedTo:          model.Clear[uuid.UUID](),
	}

	steps := []saga.Step{{Name: "record", Do: func(ctx context.Context) error {
		return o.store.UpdateDerivationStatus(ctx, rec.ID, model.DerivationRejected)
	}}}
	if requeue {
		steps = append(steps, saga.Step{Name: "ticket", Do: func(ctx context.Context) error {
			return o.store.UpdateTicket(ctx, ticket.ID, patch)
		}})
	}
	if err := o.run(ctx, "reject_derivation", steps...); err != nil {
		return Result{}, err
	}
	rec.Status = model.DerivationRejected
	if requeue {
		patch.Apply(&ticket)
		o.notifier.Send(ctx, model.Notification{
			Kind:     model.NotifyReturnedToQueue,
			Title:    "Derivation rejected",
			Body:     fmt.Sprintf("Ticket #%d was returned to the general queue", ticket.Number),
			TicketID: ticket.ID,
			At:       o.now().UTC(),
		})
	}
	return Result{Ticket: ticket, Record: rec}, nil
}

func (o *Orchestrator) pendingRecord(ctx context.Context, id uuid.UUID) (model.DerivationRecord, error) {
	rec, err := o.store.GetDerivation(ctx, id)
	if err != nil {
		return model.DerivationRecord{}, fmt.Errorf("derivation: get record: %w", err)
	}
	if rec.Status != model.DerivationPending || rec.ToEmployeeID == nil {
		return model.DerivationRecord{}, fmt.Errorf("derivation: record %s is %s: %w",
			rec.ID, rec.Status, model.ErrInvalidTicketState)
	}
	return rec, nil
}
