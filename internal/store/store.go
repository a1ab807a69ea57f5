// Package store defines the persistence contract the dispatch core depends on.
//
// The contract mirrors a document store: per-entity create/read/update plus a
// change-subscription feed. No cross-entity transactions are assumed; every
// UpdateX call commits independently. Implementations live in
// internal/storage (Postgres) and internal/store/memstore (in-process).
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/turno/internal/model"
)

// Unsubscribe stops a subscription. Safe to call more than once.
type Unsubscribe func()

// Tickets is the ticket store adapter.
type Tickets interface {
	// CreateTicket allocates the next per-day number and stores a waiting
	// ticket in the general queue.
	CreateTicket(ctx context.Context, in model.NewTicket) (model.Ticket, error)
	// UpdateTicket applies a partial update. Cleared fields are written empty.
	UpdateTicket(ctx context.Context, id uuid.UUID, patch model.TicketPatch) error
	GetTicket(ctx context.Context, id uuid.UUID) (model.Ticket, error)
	GetAllTickets(ctx context.Context) ([]model.Ticket, error)
	// SubscribeTickets calls fn with a full snapshot after every change.
	SubscribeTickets(fn func([]model.Ticket)) Unsubscribe
}

// Employees is the agent store adapter.
type Employees interface {
	CreateEmployee(ctx context.Context, in model.NewEmployee) (model.Employee, error)
	UpdateEmployee(ctx context.Context, id uuid.UUID, patch model.EmployeePatch) error
	GetEmployee(ctx context.Context, id uuid.UUID) (model.Employee, error)
	GetAllEmployees(ctx context.Context) ([]model.Employee, error)
	SubscribeEmployees(fn func([]model.Employee)) Unsubscribe
}

// Derivations is the derivation record store adapter.
type Derivations interface {
	CreateDerivation(ctx context.Context, rec model.DerivationRecord) (model.DerivationRecord, error)
	UpdateDerivationStatus(ctx context.Context, id uuid.UUID, status model.DerivationStatus) error
	GetDerivation(ctx context.Context, id uuid.UUID) (model.DerivationRecord, error)
	ListDerivations(ctx context.Context) ([]model.DerivationRecord, error)
	ListPendingForAgent(ctx context.Context, agentID uuid.UUID) ([]model.DerivationRecord, error)
	SubscribeDerivations(fn func([]model.DerivationRecord)) Unsubscribe
}

// LegacyLister is implemented by adapters that can return rows still stored
// in the legacy queued_for_employee shape. Regular reads normalise those rows
// on the fly; the reconciler uses this to rewrite them for good.
type LegacyLister interface {
	ListLegacyTickets(ctx context.Context) ([]model.Ticket, error)
}

// Store bundles all three adapters.
type Store interface {
	Tickets
	Employees
	Derivations
}
