// Package workload scores how available an agent is for a new ticket.
// Lower scores are more available; anything at or above AvailableThreshold
// is not eligible for immediate assignment.
package workload

import (
	"cmp"
	"slices"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/queue"
)

// Score weights.
const (
	BusyPenalty         = 100
	PersonalQueueWeight = 10
	ServedDivisor       = 10
	InactivePenalty     = 2000
	PausedPenalty       = 1000

	// AvailableThreshold is the exclusive upper bound for an agent that can
	// take a ticket right now. A busy agent alone reaches it.
	AvailableThreshold = BusyPenalty
)

// Score returns e's workload score against the ticket snapshot.
func Score(e model.Employee, tickets []model.Ticket) int {
	return ScoreWithQueueLen(e, queue.PersonalQueueLen(tickets, e.ID))
}

// ScoreWithQueueLen is Score with the personal queue length already known.
func ScoreWithQueueLen(e model.Employee, personalQueueLen int) int {
	score := 0
	if e.Busy() {
		score += BusyPenalty
	}
	score += PersonalQueueWeight * personalQueueLen
	if e.TotalTicketsServed > 0 {
		score += e.TotalTicketsServed / ServedDivisor
	}
	if !e.IsActive() {
		score += InactivePenalty
	}
	if e.IsPaused() {
		score += PausedPenalty
	}
	return score
}

// Available reports whether score allows immediate assignment.
func Available(score int) bool { return score < AvailableThreshold }

// Candidate is an agent together with its score.
type Candidate struct {
	Employee model.Employee
	Score    int
}

// Rank scores every active agent and orders them from most to least
// available. Equal scores keep the enumeration order of employees.
func Rank(employees []model.Employee, tickets []model.Ticket) []Candidate {
	out := make([]Candidate, 0, len(employees))
	for _, e := range employees {
		if !e.IsActive() {
			continue
		}
		out = append(out, Candidate{Employee: e, Score: Score(e, tickets)})
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		return cmp.Compare(a.Score, b.Score)
	})
	return out
}

// Best returns the most available agent whose score is under the threshold.
func Best(employees []model.Employee, tickets []model.Ticket) (Candidate, bool) {
	ranked := Rank(employees, tickets)
	if len(ranked) == 0 || !Available(ranked[0].Score) {
		return Candidate{}, false
	}
	return ranked[0], true
}
