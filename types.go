package turno

import (
	"github.com/ashita-ai/turno/internal/audit"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/service/assignment"
	"github.com/ashita-ai/turno/internal/service/derivation"
	"github.com/ashita-ai/turno/internal/service/reconcile"
)

// Entities. These alias the internal model so callers outside the module can
// name them; the internal packages never import this one.
type (
	Ticket           = model.Ticket
	Employee         = model.Employee
	DerivationRecord = model.DerivationRecord
	Notification     = model.Notification

	Priority          = model.Priority
	TicketStatus      = model.TicketStatus
	Availability      = model.Availability
	AvailabilityEvent = model.AvailabilityEvent
)

// Inputs.
type (
	NewTicket            = model.NewTicket
	NewEmployee          = model.NewEmployee
	DeriveToEmployee     = model.DeriveToEmployee
	DeriveToGeneralQueue = model.DeriveToGeneralQueue
	CancelTicket         = model.CancelTicket
)

// Results.
type (
	Assignment         = assignment.Assignment
	AvailabilityResult = assignment.AvailabilityResult
	DerivationResult   = derivation.Result
	Outcome            = derivation.Outcome
	ReconcileReport    = reconcile.Report
	AuditEntry         = audit.Entry
)

const (
	PriorityNormal = model.PriorityNormal
	PriorityHigh   = model.PriorityHigh
	PriorityUrgent = model.PriorityUrgent

	EventActivate   = model.EventActivate
	EventPause      = model.EventPause
	EventDeactivate = model.EventDeactivate
)

// Errors returned by App methods. Test with errors.Is.
var (
	ErrNotFound           = model.ErrNotFound
	ErrInvalidTicketState = model.ErrInvalidTicketState
	ErrAgentInactive      = model.ErrAgentInactive
	ErrAgentBusy          = model.ErrAgentBusy
	ErrQueueFull          = model.ErrQueueFull
	ErrSelfDerivation     = model.ErrSelfDerivation
	ErrInvalidInput       = model.ErrInvalidInput
	ErrStoreUnavailable   = model.ErrStoreUnavailable
	ErrTooFrequent        = model.ErrTooFrequent
)
