package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/turno/internal/model"
)

const employeeColumns = `id, name, position, availability, current_ticket_id,
	total_tickets_served, total_tickets_cancelled, max_personal_queue_size,
	auto_process_personal_queue, created_at, updated_at`

// CreateEmployee inserts a new agent. Availability defaults to inactive and
// the personal queue limit to the configured default.
func (db *DB) CreateEmployee(ctx context.Context, in model.NewEmployee) (model.Employee, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
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
		e.MaxPersonalQueueSize = db.defaultQueueSize
	}
	if in.AutoProcessPersonalQueue != nil {
		e.AutoProcessPersonalQueue = *in.AutoProcessPersonalQueue
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO employees (id, name, position, availability, max_personal_queue_size,
		                        auto_process_personal_queue, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Name, e.Position, string(e.Availability), e.MaxPersonalQueueSize,
		e.AutoProcessPersonalQueue, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return model.Employee{}, mapErr("create employee", err)
	}
	return e, nil
}

// UpdateEmployee applies a partial update. Counter deltas are added in the
// same statement, so concurrent completions never lose an increment.
func (db *DB) UpdateEmployee(ctx context.Context, id uuid.UUID, p model.EmployeePatch) error {
	if p.ServedDelta < 0 || p.CancelledDelta < 0 {
		return fmt.Errorf("storage: update employee %s: negative counter delta: %w", id, model.ErrInvalidInput)
	}
	var b setBuilder
	setOpt(&b, "name", p.Name)
	setOpt(&b, "position", p.Position)
	setText(&b, "availability", p.Availability)
	setOpt(&b, "current_ticket_id", p.CurrentTicketID)
	setOpt(&b, "max_personal_queue_size", p.MaxPersonalQueueSize)
	setOpt(&b, "auto_process_personal_queue", p.AutoProcessPersonalQueue)
	if p.ServedDelta > 0 {
		b.raw("total_tickets_served", "total_tickets_served + $%d", p.ServedDelta)
	}
	if p.CancelledDelta > 0 {
		b.raw("total_tickets_cancelled", "total_tickets_cancelled + $%d", p.CancelledDelta)
	}
	if b.empty() {
		return nil
	}

	query, args := b.sql("employees", id)
	err := db.retryWrite(ctx, "update employee", func(ctx context.Context) error {
		tag, err := db.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return mapErr(fmt.Sprintf("update employee %s", id), err)
	}
	return nil
}

// GetEmployee returns one agent.
func (db *DB) GetEmployee(ctx context.Context, id uuid.UUID) (model.Employee, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id)
	e, err := scanEmployee(row)
	if err != nil {
		return model.Employee{}, mapErr(fmt.Sprintf("get employee %s", id), err)
	}
	return e, nil
}

// GetAllEmployees returns every agent in creation order.
func (db *DB) GetAllEmployees(ctx context.Context) ([]model.Employee, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY created_at, id`)
	if err != nil {
		return nil, mapErr("list employees", err)
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, mapErr("scan employee", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list employees", err)
	}
	return out, nil
}

func scanEmployee(row pgx.Row) (model.Employee, error) {
	var (
		e            model.Employee
		availability string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Position, &availability, &e.CurrentTicketID,
		&e.TotalTicketsServed, &e.TotalTicketsCancelled, &e.MaxPersonalQueueSize,
		&e.AutoProcessPersonalQueue, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return model.Employee{}, err
	}
	e.Availability = model.Availability(availability)
	return e, nil
}
