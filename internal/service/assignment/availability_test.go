package assignment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/ratelimit"
	"github.com/ashita-ai/turno/internal/service/assignment"
	"github.com/ashita-ai/turno/internal/store/memstore"
	"github.com/ashita-ai/turno/internal/testutil"
)

func TestSetAvailabilityActivatePicksUpNextTicket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.agent(t, "A", model.AvailabilityInactive)
	tk := f.ticket(t, model.PriorityNormal)

	res, err := f.engine.SetAvailability(ctx, a.ID, model.EventActivate)
	require.NoError(t, err)
	require.NotNil(t, res.Assigned)
	assert.Equal(t, tk.ID, res.Assigned.ID)
	assert.Equal(t, model.AvailabilityActive, res.Agent.Availability)
	require.NotNil(t, res.Agent.CurrentTicketID)
	assert.Equal(t, tk.ID, *res.Agent.CurrentTicketID)
}

func TestSetAvailabilityTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name string
		from model.Availability
		ev   model.AvailabilityEvent
		want model.Availability
	}{
		{"pause active", model.AvailabilityActive, model.EventPause, model.AvailabilityPaused},
		{"pause inactive stays inactive", model.AvailabilityInactive, model.EventPause, model.AvailabilityInactive},
		{"deactivate paused", model.AvailabilityPaused, model.EventDeactivate, model.AvailabilityInactive},
		{"activate paused", model.AvailabilityPaused, model.EventActivate, model.AvailabilityActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			a := f.agent(t, "A", tt.from)
			res, err := f.engine.SetAvailability(ctx, a.ID, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Agent.Availability)
			assert.Nil(t, res.Assigned)
		})
	}
}

func TestSetAvailabilityBusyAgentKeepsTicket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.agent(t, "A", model.AvailabilityActive)
	serving := f.makeBusy(t, a.ID)
	f.ticket(t, model.PriorityUrgent)

	res, err := f.engine.SetAvailability(ctx, a.ID, model.EventActivate)
	require.NoError(t, err)
	assert.Nil(t, res.Assigned)
	require.NotNil(t, res.Agent.CurrentTicketID)
	assert.Equal(t, serving.ID, *res.Agent.CurrentTicketID)
}

func TestSetAvailabilityRepeatGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	guard := ratelimit.NewRepeatGuard(time.Hour)
	t.Cleanup(func() { _ = guard.Close() })
	f := newFixture(t, guard)
	a := f.agent(t, "A", model.AvailabilityActive)

	_, err := f.engine.SetAvailability(ctx, a.ID, model.EventPause)
	require.NoError(t, err)
	_, err = f.engine.SetAvailability(ctx, a.ID, model.EventPause)
	assert.ErrorIs(t, err, model.ErrTooFrequent)
	_, err = f.engine.SetAvailability(ctx, a.ID, model.EventActivate)
	assert.NoError(t, err, "a different action is not a repeat")
}

func TestSetAvailabilityErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.agent(t, "A", model.AvailabilityActive)

	_, err := f.engine.SetAvailability(ctx, uuid.New(), model.EventActivate)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.engine.SetAvailability(ctx, a.ID, model.EventAssign)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

// laggingStore hides an availability write from the first few reads, like a
// replica that has not caught up yet.
type laggingStore struct {
	*memstore.Store
	hideReads int
	prev      model.Availability
}

func (s *laggingStore) GetEmployee(ctx context.Context, id uuid.UUID) (model.Employee, error) {
	e, err := s.Store.GetEmployee(ctx, id)
	if err == nil && s.hideReads > 0 && e.Availability != s.prev {
		s.hideReads--
		e.Availability = s.prev
	}
	return e, err
}

func TestSetAvailabilitySettlesBeforeAssigning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memstore.New()
	a, err := mem.CreateEmployee(ctx, model.NewEmployee{Name: "A", Availability: model.AvailabilityPaused})
	require.NoError(t, err)
	tk, err := mem.CreateTicket(ctx, model.NewTicket{ServiceType: "x"})
	require.NoError(t, err)

	s := &laggingStore{Store: mem, hideReads: 2, prev: model.AvailabilityPaused}
	eng := assignment.New(s, nil, nil, nil, testutil.TestLogger(),
		assignment.Config{SettleAttempts: 5, SettleDelay: time.Millisecond})

	res, err := eng.SetAvailability(ctx, a.ID, model.EventActivate)
	require.NoError(t, err)
	require.NotNil(t, res.Assigned, "assignment happens once the write is visible")
	assert.Equal(t, tk.ID, res.Assigned.ID)
}
