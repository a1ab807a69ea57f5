// Package memstore is an in-process implementation of the store contract.
//
// It keeps every entity in maps guarded by one mutex, preserves insertion
// order for enumeration, and pushes a fresh snapshot to subscribers after
// each committed write. Snapshots reach subscribers in commit order, and the
// last one delivered is always the latest state. Like the Postgres adapter it
// offers no cross-entity transactions: each call commits on its own.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/store"
)

// FailureFunc lets tests inject adapter failures. It is called before every
// write with the operation name ("update_ticket", "update_employee",
// "create_derivation", ...) and the entity id; a non-nil return aborts the write.
type FailureFunc func(op string, id uuid.UUID) error

// Store is the in-memory store.
type Store struct {
	now              func() time.Time
	loc              *time.Location
	defaultQueueSize int

	mu          sync.Mutex
	tickets     map[uuid.UUID]model.Ticket
	ticketOrder []uuid.UUID
	employees   map[uuid.UUID]model.Employee
	empOrder    []uuid.UUID
	derivations map[uuid.UUID]model.DerivationRecord
	derivOrder  []uuid.UUID
	dayCounters map[string]int
	failure     FailureFunc

	// Commit sequence per entity, bumped under mu.
	ticketSeq uint64
	empSeq    uint64
	derivSeq  uint64

	ticketFeed feed[model.Ticket]
	empFeed    feed[model.Employee]
	derivFeed  feed[model.DerivationRecord]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the time zone used to reset ticket numbers at midnight.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// WithDefaultQueueSize sets maxPersonalQueueSize for new employees that do not
// specify one.
func WithDefaultQueueSize(n int) Option {
	return func(s *Store) { s.defaultQueueSize = n }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:              time.Now,
		loc:              time.Local,
		defaultQueueSize: 5,
		tickets:          make(map[uuid.UUID]model.Ticket),
		employees:        make(map[uuid.UUID]model.Employee),
		derivations:      make(map[uuid.UUID]model.DerivationRecord),
		dayCounters:      make(map[string]int),
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// SetFailure installs (or, with nil, removes) a failure injector.
func (s *Store) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	s.failure = fn
	s.mu.Unlock()
}

func (s *Store) checkFailure(op string, id uuid.UUID) error {
	if s.failure == nil {
		return nil
	}
	if err := s.failure(op, id); err != nil {
		return fmt.Errorf("memstore: %s %s: %w", op, id, err)
	}
	return nil
}

// ── Tickets ─────────────────────────────────────────────────────────────────

// CreateTicket stores a new waiting ticket in the general queue.
func (s *Store) CreateTicket(ctx context.Context, in model.NewTicket) (model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return model.Ticket{}, err
	}
	s.mu.Lock()
	if err := s.checkFailure("create_ticket", uuid.Nil); err != nil {
		s.mu.Unlock()
		return model.Ticket{}, err
	}
	now := s.now().UTC()
	day := model.ServiceDay(now, s.loc)
	s.dayCounters[day]++

	priority := in.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	general := model.QueueGeneral
	t := model.Ticket{
		ID:             uuid.New(),
		Number:         s.dayCounters[day],
		ServiceDay:     day,
		ServiceType:    in.ServiceType,
		ServiceSubtype: in.ServiceSubtype,
		Priority:       priority,
		Status:         model.StatusWaiting,
		QueueType:      &general,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.tickets[t.ID] = t
	s.ticketOrder = append(s.ticketOrder, t.ID)
	s.ticketSeq++
	seq, snap := s.ticketSeq, s.ticketSnapshotLocked()
	s.mu.Unlock()

	s.ticketFeed.offer(seq, snap)
	return t, nil
}

// PutTicket inserts or replaces a ticket verbatim. It is meant for seeding
// fixtures (including legacy rows) and bypasses numbering.
func (s *Store) PutTicket(t model.Ticket) {
	s.mu.Lock()
	if _, ok := s.tickets[t.ID]; !ok {
		s.ticketOrder = append(s.ticketOrder, t.ID)
	}
	s.tickets[t.ID] = t
	s.ticketSeq++
	seq, snap := s.ticketSeq, s.ticketSnapshotLocked()
	s.mu.Unlock()
	s.ticketFeed.offer(seq, snap)
}

// UpdateTicket applies a partial update to one ticket.
func (s *Store) UpdateTicket(ctx context.Context, id uuid.UUID, patch model.TicketPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.checkFailure("update_ticket", id); err != nil {
		s.mu.Unlock()
		return err
	}
	t, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: ticket %s: %w", id, model.ErrNotFound)
	}
	patch.Apply(&t)
	t.UpdatedAt = s.now().UTC()
	s.tickets[id] = t
	s.ticketSeq++
	seq, snap := s.ticketSeq, s.ticketSnapshotLocked()
	s.mu.Unlock()

	s.ticketFeed.offer(seq, snap)
	return nil
}

// GetTicket returns one ticket, normalised.
func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return model.Ticket{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return model.Ticket{}, fmt.Errorf("memstore: ticket %s: %w", id, model.ErrNotFound)
	}
	t.NormalizeLegacy()
	return t, nil
}

// GetAllTickets returns every ticket in creation order.
func (s *Store) GetAllTickets(ctx context.Context) ([]model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketSnapshotLocked(), nil
}

// ListLegacyTickets returns the stored rows still in the legacy
// queued_for_employee shape, as stored.
func (s *Store) ListLegacyTickets(ctx context.Context) ([]model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Ticket
	for _, id := range s.ticketOrder {
		if t := s.tickets[id]; t.Status == model.StatusQueuedForEmployee {
			out = append(out, t)
		}
	}
	return out, nil
}

// SubscribeTickets registers fn for ticket snapshots.
func (s *Store) SubscribeTickets(fn func([]model.Ticket)) store.Unsubscribe {
	return s.ticketFeed.subscribe(fn)
}

func (s *Store) ticketSnapshotLocked() []model.Ticket {
	out := make([]model.Ticket, 0, len(s.ticketOrder))
	for _, id := range s.ticketOrder {
		t := s.tickets[id]
		t.NormalizeLegacy()
		out = append(out, t)
	}
	return out
}


// ── Employees ───────────────────────────────────────────────────────────────

// CreateEmployee stores a new agent.
func (s *Store) CreateEmployee(ctx context.Context, in model.NewEmployee) (model.Employee, error) {
	if err := ctx.Err(); err != nil {
		return model.Employee{}, err
	}
	s.mu.Lock()
	if err := s.checkFailure("create_employee", uuid.Nil); err != nil {
		s.mu.Unlock()
		return model.Employee{}, err
	}
	now := s.now().UTC()
	e := model.Employee{
		ID:                       uuid.New(),
		Name:                     in.Name,
		Position:                 in.Position,
		Availability:             in.Availability,
		MaxPersonalQueueSize:     in.MaxPersonalQueueSize,
		AutoProcessPersonalQueue: true,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if e.Availability == "" {
		e.Availability = model.AvailabilityInactive
	}
	if e.MaxPersonalQueueSize <= 0 {
		e.MaxPersonalQueueSize = s.defaultQueueSize
	}
	if in.AutoProcessPersonalQueue != nil {
		e.AutoProcessPersonalQueue = *in.AutoProcessPersonalQueue
	}
	s.employees[e.ID] = e
	s.empOrder = append(s.empOrder, e.ID)
	s.empSeq++
	seq, snap := s.empSeq, s.employeeSnapshotLocked()
	s.mu.Unlock()

	s.empFeed.offer(seq, snap)
	return e, nil
}

// PutEmployee inserts or replaces an employee verbatim (fixtures).
func (s *Store) PutEmployee(e model.Employee) {
	s.mu.Lock()
	if _, ok := s.employees[e.ID]; !ok {
		s.empOrder = append(s.empOrder, e.ID)
	}
	s.employees[e.ID] = e
	s.empSeq++
	seq, snap := s.empSeq, s.employeeSnapshotLocked()
	s.mu.Unlock()
	s.empFeed.offer(seq, snap)
}

// UpdateEmployee applies a partial update to one agent.
func (s *Store) UpdateEmployee(ctx context.Context, id uuid.UUID, patch model.EmployeePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.checkFailure("update_employee", id); err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := s.employees[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: employee %s: %w", id, model.ErrNotFound)
	}
	patch.Apply(&e)
	e.UpdatedAt = s.now().UTC()
	s.employees[id] = e
	s.empSeq++
	seq, snap := s.empSeq, s.employeeSnapshotLocked()
	s.mu.Unlock()

	s.empFeed.offer(seq, snap)
	return nil
}

// GetEmployee returns one agent.
func (s *Store) GetEmployee(ctx context.Context, id uuid.UUID) (model.Employee, error) {
	if err := ctx.Err(); err != nil {
		return model.Employee{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.employees[id]
	if !ok {
		return model.Employee{}, fmt.Errorf("memstore: employee %s: %w", id, model.ErrNotFound)
	}
	return e, nil
}

// GetAllEmployees returns every agent in creation order.
func (s *Store) GetAllEmployees(ctx context.Context) ([]model.Employee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.employeeSnapshotLocked(), nil
}

// SubscribeEmployees registers fn for employee snapshots.
func (s *Store) SubscribeEmployees(fn func([]model.Employee)) store.Unsubscribe {
	return s.empFeed.subscribe(fn)
}

func (s *Store) employeeSnapshotLocked() []model.Employee {
	out := make([]model.Employee, 0, len(s.empOrder))
	for _, id := range s.empOrder {
		out = append(out, s.employees[id])
	}
	return out
}


// ── Derivations ─────────────────────────────────────────────────────────────

// CreateDerivation appends a derivation record.
func (s *Store) CreateDerivation(ctx context.Context, rec model.DerivationRecord) (model.DerivationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.DerivationRecord{}, err
	}
	s.mu.Lock()
	if err := s.checkFailure("create_derivation", rec.TicketID); err != nil {
		s.mu.Unlock()
		return model.DerivationRecord{}, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.DerivedAt.IsZero() {
		rec.DerivedAt = s.now().UTC()
	}
	s.derivations[rec.ID] = rec
	s.derivOrder = append(s.derivOrder, rec.ID)
	s.derivSeq++
	seq, snap := s.derivSeq, s.derivationSnapshotLocked()
	s.mu.Unlock()

	s.derivFeed.offer(seq, snap)
	return rec, nil
}

// UpdateDerivationStatus moves a record to a new status and stamps ResolvedAt.
func (s *Store) UpdateDerivationStatus(ctx context.Context, id uuid.UUID, status model.DerivationStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.checkFailure("update_derivation", id); err != nil {
		s.mu.Unlock()
		return err
	}
	rec, ok := s.derivations[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: derivation %s: %w", id, model.ErrNotFound)
	}
	now := s.now().UTC()
	rec.Status = status
	rec.ResolvedAt = &now
	s.derivations[id] = rec
	s.derivSeq++
	seq, snap := s.derivSeq, s.derivationSnapshotLocked()
	s.mu.Unlock()

	s.derivFeed.offer(seq, snap)
	return nil
}

// GetDerivation returns one record.
func (s *Store) GetDerivation(ctx context.Context, id uuid.UUID) (model.DerivationRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.DerivationRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.derivations[id]
	if !ok {
		return model.DerivationRecord{}, fmt.Errorf("memstore: derivation %s: %w", id, model.ErrNotFound)
	}
	return rec, nil
}

// ListDerivations returns every record in creation order.
func (s *Store) ListDerivations(ctx context.Context) ([]model.DerivationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derivationSnapshotLocked(), nil
}

// ListPendingForAgent returns pending records targeting agentID.
func (s *Store) ListPendingForAgent(ctx context.Context, agentID uuid.UUID) ([]model.DerivationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DerivationRecord
	for _, id := range s.derivOrder {
		rec := s.derivations[id]
		if rec.Status == model.DerivationPending && rec.ToEmployeeID != nil && *rec.ToEmployeeID == agentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SubscribeDerivations registers fn for derivation snapshots.
func (s *Store) SubscribeDerivations(fn func([]model.DerivationRecord)) store.Unsubscribe {
	return s.derivFeed.subscribe(fn)
}

func (s *Store) derivationSnapshotLocked() []model.DerivationRecord {
	out := make([]model.DerivationRecord, 0, len(s.derivOrder))
	for _, id := range s.derivOrder {
		out = append(out, s.derivations[id])
	}
	return out
}
