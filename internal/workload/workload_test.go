package workload

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/model"
)

func agent(av model.Availability) model.Employee {
	return model.Employee{ID: uuid.New(), Name: "agent", Availability: av, MaxPersonalQueueSize: 5}
}

func busy(e model.Employee) model.Employee {
	id := uuid.New()
	e.CurrentTicketID = &id
	return e
}

func queuedFor(owner uuid.UUID, n int) []model.Ticket {
	qt := model.QueuePersonal
	out := make([]model.Ticket, n)
	for i := range out {
		out[i] = model.Ticket{
			ID: uuid.New(), Number: i + 1, Status: model.StatusWaiting,
			QueueType: &qt, AssignedToEmployee: &owner, CreatedAt: time.Now(),
		}
	}
	return out
}

func TestScoreComponents(t *testing.T) {
	t.Parallel()
	idle := agent(model.AvailabilityActive)

	tests := []struct {
		name    string
		e       model.Employee
		tickets []model.Ticket
		want    int
	}{
		{"idle active", idle, nil, 0},
		{"busy", busy(idle), nil, 100},
		{"two queued", idle, queuedFor(idle.ID, 2), 20},
		{"served history", func() model.Employee { e := idle; e.TotalTicketsServed = 37; return e }(), nil, 3},
		{"paused", agent(model.AvailabilityPaused), nil, 3000},
		{"inactive", agent(model.AvailabilityInactive), nil, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Score(tt.e, tt.tickets))
		})
	}
}

func TestBusyAgentNeverAvailable(t *testing.T) {
	t.Parallel()
	for _, av := range []model.Availability{model.AvailabilityActive, model.AvailabilityPaused, model.AvailabilityInactive} {
		e := busy(agent(av))
		s := Score(e, nil)
		assert.GreaterOrEqual(t, s, AvailableThreshold)
		assert.False(t, Available(s))
	}
}

func TestScoreMonotonic(t *testing.T) {
	t.Parallel()
	base := agent(model.AvailabilityActive)
	baseScore := ScoreWithQueueLen(base, 1)

	assert.GreaterOrEqual(t, ScoreWithQueueLen(busy(base), 1), baseScore)
	assert.GreaterOrEqual(t, ScoreWithQueueLen(base, 2), baseScore)

	paused := base
	paused.Availability = model.AvailabilityPaused
	assert.GreaterOrEqual(t, ScoreWithQueueLen(paused, 1), baseScore)

	inactive := base
	inactive.Availability = model.AvailabilityInactive
	assert.GreaterOrEqual(t, ScoreWithQueueLen(inactive, 1), baseScore)

	for n := 0; n < 10; n++ {
		assert.LessOrEqual(t, ScoreWithQueueLen(base, n), ScoreWithQueueLen(base, n+1))
	}
}

func TestRankSkipsInactiveAndKeepsEnumerationOrderOnTies(t *testing.T) {
	t.Parallel()
	a := agent(model.AvailabilityActive)
	b := agent(model.AvailabilityActive)
	c := agent(model.AvailabilityInactive)
	d := busy(agent(model.AvailabilityActive))

	ranked := Rank([]model.Employee{d, a, c, b}, nil)
	require.Len(t, ranked, 3)
	assert.Equal(t, a.ID, ranked[0].Employee.ID)
	assert.Equal(t, b.ID, ranked[1].Employee.ID)
	assert.Equal(t, d.ID, ranked[2].Employee.ID)
}

func TestBestPicksIdleOverBusy(t *testing.T) {
	t.Parallel()
	x := busy(agent(model.AvailabilityActive))
	y := agent(model.AvailabilityActive)

	best, ok := Best([]model.Employee{x, y}, nil)
	require.True(t, ok)
	assert.Equal(t, y.ID, best.Employee.ID)
	assert.Less(t, best.Score, AvailableThreshold)
}

func TestBestNoneWhenEveryoneOverThreshold(t *testing.T) {
	t.Parallel()
	x := busy(agent(model.AvailabilityActive))
	y := agent(model.AvailabilityActive)

	_, ok := Best([]model.Employee{x}, nil)
	assert.False(t, ok)

	// Ten queued tickets push an idle agent to the threshold.
	_, ok = Best([]model.Employee{y}, queuedFor(y.ID, 10))
	assert.False(t, ok)

	_, ok = Best([]model.Employee{agent(model.AvailabilityPaused)}, nil)
	assert.False(t, ok)
}
