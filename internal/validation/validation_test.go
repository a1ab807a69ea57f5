package validation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/store/memstore"
	"github.com/ashita-ai/turno/internal/validation"
)

func serving(by uuid.UUID) *model.Ticket {
	now := time.Now()
	return &model.Ticket{
		ID: uuid.New(), Number: 12, Status: model.StatusBeingServed,
		ServedBy: &by, ServedAt: &now, CreatedAt: now,
	}
}

func employee(av model.Availability) *model.Employee {
	return &model.Employee{ID: uuid.New(), Availability: av, MaxPersonalQueueSize: 3}
}

func TestValidateDerivation(t *testing.T) {
	t.Parallel()
	source := uuid.New()
	active := employee(model.AvailabilityActive)
	waiting := serving(source)
	waiting.Status = model.StatusWaiting

	tests := []struct {
		name   string
		ticket *model.Ticket
		target *model.Employee
		qlen   int
		want   error
	}{
		{"ok", serving(source), active, 0, nil},
		{"ok with room", serving(source), active, 2, nil},
		{"missing ticket", nil, active, 0, model.ErrNotFound},
		{"missing target", serving(source), nil, 0, model.ErrNotFound},
		{"paused target", serving(source), employee(model.AvailabilityPaused), 0, model.ErrAgentInactive},
		{"inactive target", serving(source), employee(model.AvailabilityInactive), 0, model.ErrAgentInactive},
		{"queue full", serving(source), active, 3, model.ErrQueueFull},
		{"not being served", waiting, active, 0, model.ErrInvalidTicketState},
		{"self", serving(active.ID), active, 0, model.ErrSelfDerivation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validation.ValidateDerivation(tt.ticket, tt.target, tt.qlen)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateDerivationToQueue(t *testing.T) {
	t.Parallel()
	assert.ErrorIs(t, validation.ValidateDerivationToQueue(nil), model.ErrNotFound)

	tk := serving(uuid.New())
	assert.NoError(t, validation.ValidateDerivationToQueue(tk))

	for _, st := range []model.TicketStatus{model.StatusWaiting, model.StatusCompleted, model.StatusCancelled} {
		c := *tk
		c.Status = st
		assert.ErrorIs(t, validation.ValidateDerivationToQueue(&c), model.ErrInvalidTicketState, st)
	}
}

func TestValidateSource(t *testing.T) {
	t.Parallel()
	a := uuid.New()
	tk := serving(a)
	assert.NoError(t, validation.ValidateSource(*tk, a))
	assert.ErrorIs(t, validation.ValidateSource(*tk, uuid.New()), model.ErrInvalidTicketState)
}

func TestCheckerReadsFreshState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	source, err := s.CreateEmployee(ctx, model.NewEmployee{Name: "A", Availability: model.AvailabilityActive})
	require.NoError(t, err)
	target, err := s.CreateEmployee(ctx, model.NewEmployee{Name: "B", Availability: model.AvailabilityActive, MaxPersonalQueueSize: 1})
	require.NoError(t, err)
	tk, err := s.CreateTicket(ctx, model.NewTicket{ServiceType: "x"})
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, s.UpdateTicket(ctx, tk.ID, model.TicketPatch{
		Status: model.Set(model.StatusBeingServed), ServedBy: model.Set(source.ID), ServedAt: model.Set(now),
		QueueType: model.Clear[model.QueueType](),
	}))

	c := validation.NewChecker(s)
	st, err := c.CheckDerivation(ctx, tk.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, st.Ticket.ID)
	assert.Equal(t, 0, st.PersonalQueueLen)

	// Fill B's personal queue; the next check must see it.
	other, err := s.CreateTicket(ctx, model.NewTicket{ServiceType: "y"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTicket(ctx, other.ID, model.TicketPatch{
		QueueType: model.Set(model.QueuePersonal), AssignedToEmployee: model.Set(target.ID),
	}))
	_, err = c.CheckDerivation(ctx, tk.ID, target.ID)
	assert.ErrorIs(t, err, model.ErrQueueFull)

	_, err = c.CheckDerivation(ctx, uuid.New(), target.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = c.CheckDerivation(ctx, tk.ID, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := c.CheckDerivationToQueue(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	_, err = c.CheckDerivationToQueue(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStruct(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validation.Struct(model.NewTicket{ServiceType: "cashier"}))

	err := validation.Struct(model.NewTicket{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Contains(t, err.Error(), "ServiceType is required")

	err = validation.Struct(model.NewTicket{ServiceType: "x", Priority: "whenever"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	err = validation.Struct(model.NewEmployee{Name: "A", MaxPersonalQueueSize: 500})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	err = validation.Struct(model.DeriveToEmployee{TicketID: uuid.New(), FromEmployeeID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ToEmployeeID is required")
	assert.Contains(t, err.Error(), "Reason is required")
}
