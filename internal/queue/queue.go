// Package queue computes the general queue and each agent's personal queue
// from a full ticket snapshot.
//
// Everything here is a pure function of its input. Ordering is total
// (priority, then time, then ticket number, then id), so every caller that
// computes a queue from the same snapshot sees the same head regardless of
// the order the store returned the tickets in.
package queue

import (
	"bytes"
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/turno/internal/model"
)

// GeneralQueue returns waiting tickets that belong to the shared queue,
// highest priority first, then oldest first.
func GeneralQueue(tickets []model.Ticket) []model.Ticket {
	out := make([]model.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if t.InGeneralQueue() {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Ticket) int {
		return compare(a, b, a.CreatedAt, b.CreatedAt)
	})
	return out
}

// PersonalQueue returns the waiting tickets pre-assigned to agentID, highest
// priority first, then by derivation time (creation time when never derived).
func PersonalQueue(tickets []model.Ticket, agentID uuid.UUID) []model.Ticket {
	out := make([]model.Ticket, 0)
	for _, t := range tickets {
		if t.InPersonalQueueOf(agentID) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Ticket) int {
		return compare(a, b, a.PersonalQueueTime(), b.PersonalQueueTime())
	})
	return out
}

// PersonalQueueLen counts agentID's personal queue without sorting it.
func PersonalQueueLen(tickets []model.Ticket, agentID uuid.UUID) int {
	n := 0
	for _, t := range tickets {
		if t.InPersonalQueueOf(agentID) {
			n++
		}
	}
	return n
}

// NextForAgent returns the ticket agentID should serve next. The personal
// queue always wins over the general queue, whatever the priorities.
func NextForAgent(tickets []model.Ticket, agentID uuid.UUID) (model.Ticket, bool) {
	if pq := PersonalQueue(tickets, agentID); len(pq) > 0 {
		return pq[0], true
	}
	if gq := GeneralQueue(tickets); len(gq) > 0 {
		return gq[0], true
	}
	return model.Ticket{}, false
}

// Position returns the 1-based position of ticketID in q, or 0 when absent.
func Position(q []model.Ticket, ticketID uuid.UUID) int {
	for i, t := range q {
		if t.ID == ticketID {
			return i + 1
		}
	}
	return 0
}

func compare(a, b model.Ticket, at, bt time.Time) int {
	if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
		return c
	}
	if c := at.Compare(bt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Number, b.Number); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}
