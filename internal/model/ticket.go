// Package model defines the core domain types for Turno.
//
// Types map one-to-one onto the store's entities (tickets, employees,
// derivation records) and use strong typing (UUIDs, time.Time, string enums).
// Partial updates are expressed with Opt so that "clear this field" and
// "leave this field alone" stay distinct all the way down to the adapters.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders tickets inside a queue. Higher rank is served first.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the numeric rank of a priority (higher = served earlier).
// Unknown values rank with normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 2
	case PriorityHigh:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusWaiting     TicketStatus = "waiting"
	StatusBeingServed TicketStatus = "being_served"
	StatusCompleted   TicketStatus = "completed"
	StatusCancelled   TicketStatus = "cancelled"

	// StatusQueuedForEmployee is the legacy personal-queue marker. It is only
	// ever read; NormalizeLegacy rewrites it into the queueType model.
	StatusQueuedForEmployee TicketStatus = "queued_for_employee"
)

// Terminal reports whether the status ends the ticket's lifecycle.
func (s TicketStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// QueueType places a waiting ticket in the general queue or in one agent's
// personal queue.
type QueueType string

const (
	QueueGeneral  QueueType = "general"
	QueuePersonal QueueType = "personal"
)

// Ticket is one customer's request for service.
type Ticket struct {
	ID             uuid.UUID    `json:"id"`
	Number         int          `json:"number"`
	ServiceDay     string       `json:"service_day"` // YYYY-MM-DD in the configured time zone
	ServiceType    string       `json:"service_type"`
	ServiceSubtype *string      `json:"service_subtype,omitempty"`
	Priority       Priority     `json:"priority"`
	Status         TicketStatus `json:"status"`

	// Queue placement, meaningful only while waiting.
	QueueType          *QueueType `json:"queue_type,omitempty"`
	AssignedToEmployee *uuid.UUID `json:"assigned_to_employee,omitempty"`

	// Legacy personal-queue owner, paired with StatusQueuedForEmployee.
	QueuedForEmployee *uuid.UUID `json:"queued_for_employee,omitempty"`

	ServedBy *uuid.UUID `json:"served_by,omitempty"`
	ServedAt *time.Time `json:"served_at,omitempty"`

	DerivedFrom       *uuid.UUID `json:"derived_from,omitempty"`
	DerivedTo         *uuid.UUID `json:"derived_to,omitempty"`
	DerivedAt         *time.Time `json:"derived_at,omitempty"`
	DerivationReason  *string    `json:"derivation_reason,omitempty"`
	DerivationComment *string    `json:"derivation_comment,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	// Durations in whole seconds.
	WaitTime    *int64 `json:"wait_time,omitempty"`
	ServiceTime *int64 `json:"service_time,omitempty"`
	TotalTime   *int64 `json:"total_time,omitempty"`

	CancellationReason  *string    `json:"cancellation_reason,omitempty"`
	CancellationComment *string    `json:"cancellation_comment,omitempty"`
	CancelledBy         *uuid.UUID `json:"cancelled_by,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// InGeneralQueue reports whether the ticket waits in the shared queue.
func (t Ticket) InGeneralQueue() bool {
	if t.Status != StatusWaiting || t.AssignedToEmployee != nil {
		return false
	}
	return t.QueueType == nil || *t.QueueType == QueueGeneral
}

// InPersonalQueueOf reports whether the ticket waits in agentID's personal queue.
func (t Ticket) InPersonalQueueOf(agentID uuid.UUID) bool {
	return t.Status == StatusWaiting &&
		t.QueueType != nil && *t.QueueType == QueuePersonal &&
		t.AssignedToEmployee != nil && *t.AssignedToEmployee == agentID
}

// PersonalQueueTime is the time a personal-queue ticket is ordered by:
// the derivation time when present, else creation time.
func (t Ticket) PersonalQueueTime() time.Time {
	if t.DerivedAt != nil {
		return *t.DerivedAt
	}
	return t.CreatedAt
}

// ServedByAgent reports whether agentID is currently serving the ticket.
func (t Ticket) ServedByAgent(agentID uuid.UUID) bool {
	return t.Status == StatusBeingServed && t.ServedBy != nil && *t.ServedBy == agentID
}

// NormalizeLegacy rewrites the legacy queued_for_employee representation into
// the single queue-placement model. It returns true when t was changed.
func (t *Ticket) NormalizeLegacy() bool {
	if t.Status != StatusQueuedForEmployee {
		return false
	}
	t.Status = StatusWaiting
	if t.QueuedForEmployee != nil {
		qt := QueuePersonal
		owner := *t.QueuedForEmployee
		t.QueueType = &qt
		t.AssignedToEmployee = &owner
	} else {
		qt := QueueGeneral
		t.QueueType = &qt
		t.AssignedToEmployee = nil
	}
	t.QueuedForEmployee = nil
	t.ServedBy = nil
	t.ServedAt = nil
	return true
}

// NewTicket is the input for creating a ticket.
type NewTicket struct {
	ServiceType    string   `json:"service_type" validate:"required,max=100"`
	ServiceSubtype *string  `json:"service_subtype,omitempty" validate:"omitempty,max=100"`
	Priority       Priority `json:"priority,omitempty" validate:"omitempty,oneof=normal high urgent"`
}

// TicketPatch is a partial ticket update. Unspecified fields are not written.
type TicketPatch struct {
	ServiceType        Opt[string]
	Priority           Opt[Priority]
	Status             Opt[TicketStatus]
	QueueType          Opt[QueueType]
	AssignedToEmployee Opt[uuid.UUID]
	QueuedForEmployee  Opt[uuid.UUID]
	ServedBy           Opt[uuid.UUID]
	ServedAt           Opt[time.Time]
	DerivedFrom        Opt[uuid.UUID]
	DerivedTo          Opt[uuid.UUID]
	DerivedAt          Opt[time.Time]
	DerivationReason   Opt[string]
	DerivationComment  Opt[string]
	CompletedAt        Opt[time.Time]
	CancelledAt        Opt[time.Time]
	WaitTime           Opt[int64]
	ServiceTime        Opt[int64]
	TotalTime          Opt[int64]

	CancellationReason  Opt[string]
	CancellationComment Opt[string]
	CancelledBy         Opt[uuid.UUID]
}

// Apply writes the patch into t. UpdatedAt is left to the caller.
func (p TicketPatch) Apply(t *Ticket) {
	p.ServiceType.applyVal(&t.ServiceType)
	p.Priority.applyVal(&t.Priority)
	p.Status.applyVal(&t.Status)
	p.QueueType.applyPtr(&t.QueueType)
	p.AssignedToEmployee.applyPtr(&t.AssignedToEmployee)
	p.QueuedForEmployee.applyPtr(&t.QueuedForEmployee)
	p.ServedBy.applyPtr(&t.ServedBy)
	p.ServedAt.applyPtr(&t.ServedAt)
	p.DerivedFrom.applyPtr(&t.DerivedFrom)
	p.DerivedTo.applyPtr(&t.DerivedTo)
	p.DerivedAt.applyPtr(&t.DerivedAt)
	p.DerivationReason.applyPtr(&t.DerivationReason)
	p.DerivationComment.applyPtr(&t.DerivationComment)
	p.CompletedAt.applyPtr(&t.CompletedAt)
	p.CancelledAt.applyPtr(&t.CancelledAt)
	p.WaitTime.applyPtr(&t.WaitTime)
	p.ServiceTime.applyPtr(&t.ServiceTime)
	p.TotalTime.applyPtr(&t.TotalTime)
	p.CancellationReason.applyPtr(&t.CancellationReason)
	p.CancellationComment.applyPtr(&t.CancellationComment)
	p.CancelledBy.applyPtr(&t.CancelledBy)
}

// Seconds returns whole seconds between from and to, never negative.
func Seconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// ServiceDay returns the calendar day t falls on in loc, formatted YYYY-MM-DD.
// Ticket numbers restart at 1 on every new service day.
func ServiceDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}
