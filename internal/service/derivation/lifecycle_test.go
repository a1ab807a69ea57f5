package derivation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
)

func TestCompleteRecordsMetricsAndPicksUpNext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	tk := f.serving(t, a.ID)
	next := f.waiting(t)

	out, err := f.orch.Complete(ctx, tk.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, out.Ticket.Status)
	require.NotNil(t, out.Ticket.ServiceTime)
	assert.Equal(t, int64(9*60), *out.Ticket.ServiceTime)
	require.NotNil(t, out.Ticket.TotalTime)
	assert.Equal(t, int64(10*60), *out.Ticket.TotalTime)

	require.NotNil(t, out.Next)
	assert.Equal(t, next.ID, out.Next.ID)
	agent := f.employee(t, a.ID)
	assert.Equal(t, 1, agent.TotalTicketsServed)
	require.NotNil(t, agent.CurrentTicketID)
	assert.Equal(t, next.ID, *agent.CurrentTicketID)
}

func TestCompleteWithoutAutoProcessStaysFree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	require.NoError(t, f.store.UpdateEmployee(ctx, a.ID, model.EmployeePatch{AutoProcessPersonalQueue: model.Set(false)}))
	tk := f.serving(t, a.ID)
	f.waiting(t)

	out, err := f.orch.Complete(ctx, tk.ID, a.ID)
	require.NoError(t, err)
	assert.Nil(t, out.Next)
	assert.Nil(t, f.employee(t, a.ID).CurrentTicketID)
}

func TestCompleteRequiresServingAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	b := f.agent(t, "B", model.AvailabilityActive)
	tk := f.serving(t, a.ID)

	_, err := f.orch.Complete(ctx, tk.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTicketState)
	_, err = f.orch.Complete(ctx, uuid.New(), a.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	sup := uuid.New()
	tk := f.serving(t, a.ID)

	out, err := f.orch.Cancel(ctx, model.CancelTicket{TicketID: tk.ID, CancelledBy: sup, Reason: "no show"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Ticket.Status)
	require.NotNil(t, out.Ticket.CancelledBy)
	assert.Equal(t, sup, *out.Ticket.CancelledBy)
	require.NotNil(t, out.Ticket.CancellationReason)
	assert.Equal(t, "no show", *out.Ticket.CancellationReason)

	agent := f.employee(t, a.ID)
	assert.Equal(t, 1, agent.TotalTicketsCancelled)
	assert.Equal(t, 0, agent.TotalTicketsServed)
	assert.Nil(t, agent.CurrentTicketID)

	_, err = f.orch.Cancel(ctx, model.CancelTicket{TicketID: tk.ID, CancelledBy: sup, Reason: "again"})
	assert.ErrorIs(t, err, model.ErrInvalidTicketState)
	_, err = f.orch.Cancel(ctx, model.CancelTicket{TicketID: tk.ID, CancelledBy: sup})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRecall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	b := f.agent(t, "B", model.AvailabilityPaused)
	tk := f.serving(t, a.ID)
	_, err := f.orch.Cancel(ctx, model.CancelTicket{TicketID: tk.ID, CancelledBy: a.ID, Reason: "left"})
	require.NoError(t, err)

	out, err := f.orch.Recall(ctx, tk.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBeingServed, out.Ticket.Status)
	assert.True(t, out.Ticket.ServedByAgent(b.ID))
	assert.Nil(t, out.Ticket.CancelledAt)
	assert.Nil(t, out.Ticket.CancellationReason)
	assert.Nil(t, out.Ticket.ServiceTime)

	agent := f.employee(t, b.ID)
	assert.Equal(t, model.AvailabilityActive, agent.Availability)
	require.NotNil(t, agent.CurrentTicketID)
	assert.Equal(t, tk.ID, *agent.CurrentTicketID)
	assert.Contains(t, f.kinds(), model.NotifyTicketRecalled)
}

func TestRecallRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	b := f.agent(t, "B", model.AvailabilityActive)
	live := f.serving(t, a.ID)
	f.serving(t, b.ID)

	done := f.serving(t, a.ID)
	_, err := f.orch.ForceComplete(ctx, done.ID)
	require.NoError(t, err)

	_, err = f.orch.Recall(ctx, live.ID, a.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTicketState)
	_, err = f.orch.Recall(ctx, done.ID, b.ID)
	assert.ErrorIs(t, err, model.ErrAgentBusy)
	_, err = f.orch.Recall(ctx, done.ID, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestForceCompleteServedTicket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	tk := f.serving(t, a.ID)

	out, err := f.orch.ForceComplete(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, out.Ticket.Status)
	require.NotNil(t, out.Ticket.ServiceTime)
	assert.Equal(t, int64(9*60), *out.Ticket.ServiceTime)

	agent := f.employee(t, a.ID)
	assert.Nil(t, agent.CurrentTicketID)
	assert.Equal(t, 1, agent.TotalTicketsServed)
	assert.Equal(t, model.AvailabilityPaused, agent.Availability)
	assert.Equal(t, []model.NotificationKind{model.NotifyTicketForceComplete}, f.kinds())
}

func TestForceCompleteWithoutServingAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	tk := f.waiting(t)
	require.NoError(t, f.store.UpdateTicket(ctx, tk.ID, model.TicketPatch{
		Status: model.Set(model.StatusBeingServed), QueueType: model.Clear[model.QueueType](),
	}))
	f.store.SetFailure(func(op string, _ uuid.UUID) error {
		if op == "update_employee" {
			t.Errorf("no agent update expected")
		}
		return nil
	})

	out, err := f.orch.ForceComplete(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, out.Ticket.Status)
	require.NotNil(t, out.Ticket.ServiceTime)
	assert.Equal(t, int64(0), *out.Ticket.ServiceTime)
	assert.Equal(t, 0, f.employee(t, a.ID).TotalTicketsServed)
}

func TestForceCompleteIgnoresServedAtWithoutAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	tk := f.waiting(t)
	require.NoError(t, f.store.UpdateTicket(ctx, tk.ID, model.TicketPatch{
		Status: model.Set(model.StatusBeingServed), ServedAt: model.Set(t0.Add(time.Minute)),
		QueueType: model.Clear[model.QueueType](),
	}))

	out, err := f.orch.ForceComplete(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Ticket.ServiceTime)
	assert.Equal(t, int64(0), *out.Ticket.ServiceTime, "no serving agent, no service time")
	require.NotNil(t, out.Ticket.TotalTime)
	assert.Equal(t, int64(600), *out.Ticket.TotalTime)
}

func TestForceCompleteKeepsInactiveAgentInactive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.agent(t, "A", model.AvailabilityActive)
	tk := f.serving(t, a.ID)
	require.NoError(t, f.store.UpdateEmployee(ctx, a.ID, model.EmployeePatch{
		Availability: model.Set(model.AvailabilityInactive),
	}))

	_, err := f.orch.ForceComplete(ctx, tk.ID)
	require.NoError(t, err)
	got := f.employee(t, a.ID)
	assert.Nil(t, got.CurrentTicketID)
	assert.Equal(t, model.AvailabilityInactive, got.Availability, "pausing never opts an agent back in")
	assert.Equal(t, 1, got.TotalTicketsServed)
}

func TestForceCompleteWaitingTicketRecordsWaitTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	tk := f.waiting(t)
	f.now = t0.Add(3 * time.Minute)

	out, err := f.orch.ForceComplete(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, out.Ticket.QueueType)
	require.NotNil(t, out.Ticket.WaitTime)
	assert.Equal(t, int64(180), *out.Ticket.WaitTime)

	_, err = f.orch.ForceComplete(ctx, tk.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTicketState)
}
