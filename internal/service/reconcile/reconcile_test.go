package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/service/assignment"
	"github.com/ashita-ai/turno/internal/service/reconcile"
	"github.com/ashita-ai/turno/internal/store/memstore"
	"github.com/ashita-ai/turno/internal/testutil"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func agent(name string, av model.Availability, current *uuid.UUID) model.Employee {
	return model.Employee{
		ID: uuid.New(), Name: name, Availability: av, CurrentTicketID: current,
		MaxPersonalQueueSize: 5, AutoProcessPersonalQueue: true, CreatedAt: t0,
	}
}

func ticket(n int, status model.TicketStatus) model.Ticket {
	return model.Ticket{
		ID: uuid.New(), Number: n, ServiceType: "cashier", Priority: model.PriorityNormal,
		Status: status, CreatedAt: t0.Add(time.Duration(n) * time.Second),
	}
}

func TestRunRepairsAgentPointers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()

	served := ticket(1, model.StatusBeingServed)
	done := ticket(2, model.StatusCompleted)
	other := ticket(3, model.StatusBeingServed)
	orphan := ticket(4, model.StatusBeingServed)

	unlinked := agent("unlinked", model.AvailabilityActive, nil)
	stale := agent("stale", model.AvailabilityActive, ptr(done.ID))
	wrong := agent("wrong", model.AvailabilityActive, ptr(done.ID))
	fine := agent("fine", model.AvailabilityPaused, nil)

	served.ServedBy = ptr(unlinked.ID)
	other.ServedBy = ptr(wrong.ID)
	orphan.ServedBy = ptr(uuid.New())
	for _, tk := range []model.Ticket{served, done, other, orphan} {
		s.PutTicket(tk)
	}
	for _, e := range []model.Employee{unlinked, stale, wrong, fine} {
		s.PutEmployee(e)
	}

	rec := reconcile.New(s, nil, false, testutil.TestLogger())
	rep, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AgentsLinked)
	assert.Equal(t, 2, rep.StaleCleared)
	assert.Equal(t, 1, rep.Orphaned)
	assert.Equal(t, 0, rep.Failed)

	get := func(id uuid.UUID) model.Employee {
		e, err := s.GetEmployee(ctx, id)
		require.NoError(t, err)
		return e
	}
	require.NotNil(t, get(unlinked.ID).CurrentTicketID)
	assert.Equal(t, served.ID, *get(unlinked.ID).CurrentTicketID)
	assert.Nil(t, get(stale.ID).CurrentTicketID)
	require.NotNil(t, get(wrong.ID).CurrentTicketID)
	assert.Equal(t, other.ID, *get(wrong.ID).CurrentTicketID)
	assert.Nil(t, get(fine.ID).CurrentTicketID)

	again, err := rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Repairs(), "a second pass finds nothing to fix")
}

func TestRunNormalisesLegacyRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	owner := agent("owner", model.AvailabilityActive, nil)
	s.PutEmployee(owner)

	personal := ticket(1, model.StatusQueuedForEmployee)
	personal.QueuedForEmployee = ptr(owner.ID)
	general := ticket(2, model.StatusQueuedForEmployee)
	s.PutTicket(personal)
	s.PutTicket(general)

	rep, err := reconcile.New(s, nil, false, testutil.TestLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.LegacyNormalized)

	left, err := s.ListLegacyTickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	got, err := s.GetTicket(ctx, personal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, got.Status)
	assert.True(t, got.InPersonalQueueOf(owner.ID))
	assert.Nil(t, got.QueuedForEmployee)

	got, err = s.GetTicket(ctx, general.ID)
	require.NoError(t, err)
	assert.True(t, got.InGeneralQueue())
}

func TestRunSweepAssignsFreeAgents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	logger := testutil.TestLogger()
	free := agent("free", model.AvailabilityActive, nil)
	paused := agent("paused", model.AvailabilityPaused, nil)
	s.PutEmployee(free)
	s.PutEmployee(paused)
	tk, err := s.CreateTicket(ctx, model.NewTicket{ServiceType: "cashier"})
	require.NoError(t, err)

	eng := assignment.New(s, nil, nil, nil, logger, assignment.Config{})
	rep, err := reconcile.New(s, eng, true, logger).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Assigned)

	got, err := s.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.ServedByAgent(free.ID))
}

func TestRunCountsWriteFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	done := ticket(1, model.StatusCompleted)
	stale := agent("stale", model.AvailabilityActive, ptr(done.ID))
	s.PutTicket(done)
	s.PutEmployee(stale)
	s.SetFailure(func(op string, _ uuid.UUID) error {
		if op == "update_employee" {
			return model.ErrStoreUnavailable
		}
		return nil
	})

	rep, err := reconcile.New(s, nil, false, testutil.TestLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.StaleCleared)
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	rec := reconcile.New(memstore.New(), nil, false, testutil.TestLogger())
	c := cron.New()

	id, err := rec.Schedule(c, "@every 1m", time.Second)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = rec.Schedule(c, "not a schedule", time.Second)
	assert.Error(t, err)
}
