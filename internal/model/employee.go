package model

import (
	"time"

	"github.com/google/uuid"
)

// Availability is an agent's single availability state. It replaces the
// isActive/isPaused boolean pair, which could encode contradictory states.
type Availability string

const (
	// AvailabilityActive agents are opted in and receive tickets.
	AvailabilityActive Availability = "active"
	// AvailabilityPaused agents are temporarily not receiving tickets.
	AvailabilityPaused Availability = "paused"
	// AvailabilityInactive agents are opted out (off shift, not logged in).
	AvailabilityInactive Availability = "inactive"
)

// Valid reports whether a is a known availability.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityActive, AvailabilityPaused, AvailabilityInactive:
		return true
	}
	return false
}

// AvailabilityEvent drives availability transitions.
type AvailabilityEvent string

const (
	EventActivate   AvailabilityEvent = "activate"
	EventPause      AvailabilityEvent = "pause"
	EventDeactivate AvailabilityEvent = "deactivate"
	// EventAssign fires when a ticket is handed to the agent.
	EventAssign AvailabilityEvent = "assign"
)

// NextAvailability applies ev to a. Pausing an inactive agent keeps it
// inactive; every other event has a fixed destination.
func NextAvailability(a Availability, ev AvailabilityEvent) Availability {
	switch ev {
	case EventActivate, EventAssign:
		return AvailabilityActive
	case EventPause:
		if a == AvailabilityInactive {
			return AvailabilityInactive
		}
		return AvailabilityPaused
	case EventDeactivate:
		return AvailabilityInactive
	default:
		return a
	}
}

// Employee is an agent who serves tickets.
type Employee struct {
	ID                       uuid.UUID    `json:"id"`
	Name                     string       `json:"name"`
	Position                 string       `json:"position"`
	Availability             Availability `json:"availability"`
	CurrentTicketID          *uuid.UUID   `json:"current_ticket_id,omitempty"`
	TotalTicketsServed       int          `json:"total_tickets_served"`
	TotalTicketsCancelled    int          `json:"total_tickets_cancelled"`
	MaxPersonalQueueSize     int          `json:"max_personal_queue_size"`
	AutoProcessPersonalQueue bool         `json:"auto_process_personal_queue"`
	CreatedAt                time.Time    `json:"created_at"`
	UpdatedAt                time.Time    `json:"updated_at"`
}

// IsActive reports whether the agent is opted in to receive tickets.
func (e Employee) IsActive() bool { return e.Availability == AvailabilityActive }

// IsPaused reports whether the agent is temporarily not receiving tickets.
func (e Employee) IsPaused() bool { return e.Availability == AvailabilityPaused }

// Busy reports whether the agent is serving a ticket.
func (e Employee) Busy() bool { return e.CurrentTicketID != nil }

// Free reports whether the agent can take a ticket right now.
func (e Employee) Free() bool { return e.IsActive() && !e.Busy() }

// NewEmployee is the input for creating an agent.
type NewEmployee struct {
	Name                     string       `json:"name" validate:"required,max=200"`
	Position                 string       `json:"position" validate:"max=100"`
	Availability             Availability `json:"availability,omitempty" validate:"omitempty,oneof=active paused inactive"`
	MaxPersonalQueueSize     int          `json:"max_personal_queue_size,omitempty" validate:"omitempty,min=1,max=100"`
	AutoProcessPersonalQueue *bool        `json:"auto_process_personal_queue,omitempty"`
}

// EmployeePatch is a partial employee update. Counter deltas are applied
// atomically by the adapters (total = total + delta) and must not be negative.
type EmployeePatch struct {
	Name                     Opt[string]
	Position                 Opt[string]
	Availability             Opt[Availability]
	CurrentTicketID          Opt[uuid.UUID]
	MaxPersonalQueueSize     Opt[int]
	AutoProcessPersonalQueue Opt[bool]

	ServedDelta    int
	CancelledDelta int
}

// Apply writes the patch into e. UpdatedAt is left to the caller.
func (p EmployeePatch) Apply(e *Employee) {
	p.Name.applyVal(&e.Name)
	p.Position.applyVal(&e.Position)
	p.Availability.applyVal(&e.Availability)
	p.CurrentTicketID.applyPtr(&e.CurrentTicketID)
	p.MaxPersonalQueueSize.applyVal(&e.MaxPersonalQueueSize)
	p.AutoProcessPersonalQueue.applyVal(&e.AutoProcessPersonalQueue)
	if p.ServedDelta > 0 {
		e.TotalTicketsServed += p.ServedDelta
	}
	if p.CancelledDelta > 0 {
		e.TotalTicketsCancelled += p.CancelledDelta
	}
}
