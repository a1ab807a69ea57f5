package model

import (
	"time"

	"github.com/google/uuid"
)

// DerivationType says where a derived ticket went.
type DerivationType string

const (
	DerivationToEmployee     DerivationType = "to_employee"
	DerivationToGeneralQueue DerivationType = "to_general_queue"
)

// DerivationStatus tracks a derivation record after it is written.
type DerivationStatus string

const (
	DerivationPending      DerivationStatus = "pending"
	DerivationAccepted     DerivationStatus = "accepted"
	DerivationRejected     DerivationStatus = "rejected"
	DerivationAutoAssigned DerivationStatus = "auto_assigned"
)

// DerivationRecord is the append-only record of one hand-off. Only Status and
// ResolvedAt change after creation.
type DerivationRecord struct {
	ID             uuid.UUID        `json:"id"`
	TicketID       uuid.UUID        `json:"ticket_id"`
	FromEmployeeID uuid.UUID        `json:"from_employee_id"`
	ToEmployeeID   *uuid.UUID       `json:"to_employee_id,omitempty"`
	Type           DerivationType   `json:"derivation_type"`
	Reason         string           `json:"reason"`
	Comment        *string          `json:"comment,omitempty"`
	NewServiceType *string          `json:"new_service_type,omitempty"`
	DerivedAt      time.Time        `json:"derived_at"`
	Status         DerivationStatus `json:"status"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// NotificationKind classifies notification events.
type NotificationKind string

const (
	NotifyTicketAssigned      NotificationKind = "ticket_assigned"
	NotifyTicketDerived       NotificationKind = "ticket_derived"
	NotifyPersonalQueue       NotificationKind = "ticket_queued_personal"
	NotifyReturnedToQueue     NotificationKind = "ticket_returned_to_queue"
	NotifyTicketRecalled      NotificationKind = "ticket_recalled"
	NotifyTicketForceComplete NotificationKind = "ticket_force_completed"
)

// Notification is what the core decides to announce. Delivery is up to the sink.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	TicketID    uuid.UUID        `json:"ticket_id"`
	RecipientID *uuid.UUID       `json:"recipient_id,omitempty"`
	At          time.Time        `json:"at"`
}

// DeriveToEmployee is the input for handing a ticket to another agent.
// Priority defaults to high when the ticket lands in a personal queue.
type DeriveToEmployee struct {
	TicketID       uuid.UUID `json:"ticket_id" validate:"required"`
	FromEmployeeID uuid.UUID `json:"from_employee_id" validate:"required"`
	ToEmployeeID   uuid.UUID `json:"to_employee_id" validate:"required"`
	Reason         string    `json:"reason" validate:"required,max=500"`
	Comment        *string   `json:"comment,omitempty" validate:"omitempty,max=2000"`
	NewServiceType *string   `json:"new_service_type,omitempty" validate:"omitempty,max=100"`
	Priority       *Priority `json:"priority,omitempty" validate:"omitempty,oneof=normal high urgent"`
}

// DeriveToGeneralQueue is the input for returning a ticket to the shared queue.
// Priority defaults to normal.
type DeriveToGeneralQueue struct {
	TicketID       uuid.UUID `json:"ticket_id" validate:"required"`
	FromEmployeeID uuid.UUID `json:"from_employee_id" validate:"required"`
	Reason         string    `json:"reason" validate:"required,max=500"`
	Comment        *string   `json:"comment,omitempty" validate:"omitempty,max=2000"`
	NewServiceType *string   `json:"new_service_type,omitempty" validate:"omitempty,max=100"`
	Priority       *Priority `json:"priority,omitempty" validate:"omitempty,oneof=normal high urgent"`
}

// CancelTicket is the input for cancelling a ticket being served.
type CancelTicket struct {
	TicketID    uuid.UUID `json:"ticket_id" validate:"required"`
	CancelledBy uuid.UUID `json:"cancelled_by" validate:"required"`
	Reason      string    `json:"reason" validate:"required,max=500"`
	Comment     *string   `json:"comment,omitempty" validate:"omitempty,max=2000"`
}
