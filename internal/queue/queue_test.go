package queue

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func general(number int, p model.Priority, created time.Time) model.Ticket {
	qt := model.QueueGeneral
	return model.Ticket{
		ID:        uuid.New(),
		Number:    number,
		Priority:  p,
		Status:    model.StatusWaiting,
		QueueType: &qt,
		CreatedAt: created,
	}
}

func personal(number int, p model.Priority, owner uuid.UUID, created time.Time, derived *time.Time) model.Ticket {
	qt := model.QueuePersonal
	return model.Ticket{
		ID:                 uuid.New(),
		Number:             number,
		Priority:           p,
		Status:             model.StatusWaiting,
		QueueType:          &qt,
		AssignedToEmployee: &owner,
		CreatedAt:          created,
		DerivedAt:          derived,
	}
}

func numbers(ts []model.Ticket) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = t.Number
	}
	return out
}

func TestGeneralQueueUrgentBeforeOlderNormal(t *testing.T) {
	t.Parallel()
	t7 := general(7, model.PriorityNormal, t0)
	t8 := general(8, model.PriorityUrgent, t0.Add(5*time.Second))

	q := GeneralQueue([]model.Ticket{t7, t8})
	assert.Equal(t, []int{8, 7}, numbers(q))
}

func TestGeneralQueueFilters(t *testing.T) {
	t.Parallel()
	agent := uuid.New()
	inQueue := general(1, model.PriorityNormal, t0)
	noQueueType := general(2, model.PriorityNormal, t0.Add(time.Second))
	noQueueType.QueueType = nil
	serving := general(3, model.PriorityNormal, t0)
	serving.Status = model.StatusBeingServed
	serving.ServedBy = &agent
	done := general(4, model.PriorityNormal, t0)
	done.Status = model.StatusCompleted
	mine := personal(5, model.PriorityUrgent, agent, t0, nil)

	q := GeneralQueue([]model.Ticket{inQueue, noQueueType, serving, done, mine})
	assert.Equal(t, []int{1, 2}, numbers(q))
}

func TestGeneralQueueOrderedByPriorityThenCreatedAt(t *testing.T) {
	t.Parallel()
	tickets := []model.Ticket{
		general(1, model.PriorityNormal, t0),
		general(2, model.PriorityHigh, t0.Add(1*time.Second)),
		general(3, model.PriorityNormal, t0.Add(2*time.Second)),
		general(4, model.PriorityUrgent, t0.Add(3*time.Second)),
		general(5, model.PriorityHigh, t0.Add(4*time.Second)),
	}
	q := GeneralQueue(tickets)
	assert.Equal(t, []int{4, 2, 5, 1, 3}, numbers(q))
}

func TestGeneralQueueStableUnderPermutation(t *testing.T) {
	t.Parallel()
	// Equal priority and creation time: the order must not depend on input order.
	var tickets []model.Ticket
	for i := 1; i <= 8; i++ {
		tickets = append(tickets, general(i, model.PriorityHigh, t0))
	}
	want := numbers(GeneralQueue(tickets))

	r := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := append([]model.Ticket(nil), tickets...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, numbers(GeneralQueue(shuffled)))
	}
}

func TestPersonalQueueOnlyOwnersTickets(t *testing.T) {
	t.Parallel()
	a, b := uuid.New(), uuid.New()
	tickets := []model.Ticket{
		personal(1, model.PriorityNormal, a, t0, nil),
		personal(2, model.PriorityNormal, b, t0, nil),
		personal(3, model.PriorityUrgent, b, t0, nil),
		general(4, model.PriorityUrgent, t0),
	}
	q := PersonalQueue(tickets, a)
	require.Len(t, q, 1)
	for _, tk := range q {
		require.NotNil(t, tk.AssignedToEmployee)
		assert.Equal(t, a, *tk.AssignedToEmployee)
	}
	assert.Equal(t, 2, PersonalQueueLen(tickets, b))
	assert.Equal(t, 0, PersonalQueueLen(tickets, uuid.New()))
}

func TestPersonalQueueUsesDerivedAt(t *testing.T) {
	t.Parallel()
	a := uuid.New()
	late := t0.Add(time.Hour)
	early := t0.Add(time.Minute)
	// #1 was created first but derived later than #2.
	tickets := []model.Ticket{
		personal(1, model.PriorityHigh, a, t0, &late),
		personal(2, model.PriorityHigh, a, t0.Add(time.Second), &early),
		personal(3, model.PriorityUrgent, a, t0.Add(2*time.Hour), nil),
	}
	assert.Equal(t, []int{3, 2, 1}, numbers(PersonalQueue(tickets, a)))
}

func TestNextForAgentPersonalWins(t *testing.T) {
	t.Parallel()
	a := uuid.New()
	urgentGeneral := general(1, model.PriorityUrgent, t0)
	normalPersonal := personal(2, model.PriorityNormal, a, t0.Add(time.Hour), nil)

	next, ok := NextForAgent([]model.Ticket{urgentGeneral, normalPersonal}, a)
	require.True(t, ok)
	assert.Equal(t, 2, next.Number)

	next, ok = NextForAgent([]model.Ticket{urgentGeneral, normalPersonal}, uuid.New())
	require.True(t, ok)
	assert.Equal(t, 1, next.Number)

	_, ok = NextForAgent(nil, a)
	assert.False(t, ok)
}

func TestPosition(t *testing.T) {
	t.Parallel()
	q := GeneralQueue([]model.Ticket{
		general(1, model.PriorityNormal, t0),
		general(2, model.PriorityNormal, t0.Add(time.Second)),
	})
	assert.Equal(t, 2, Position(q, q[1].ID))
	assert.Equal(t, 0, Position(q, uuid.New()))
}
