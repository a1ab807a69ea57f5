package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/turno/internal/model"
)

const ticketColumns = `id, number, service_day, service_type, service_subtype, priority, status,
	queue_type, assigned_to_employee, queued_for_employee, served_by, served_at,
	derived_from, derived_to, derived_at, derivation_reason, derivation_comment,
	created_at, completed_at, cancelled_at, wait_time, service_time, total_time,
	cancellation_reason, cancellation_comment, cancelled_by, updated_at`

// CreateTicket allocates the next number for today's service day and inserts
// a waiting ticket in the general queue, in one transaction.
func (db *DB) CreateTicket(ctx context.Context, in model.NewTicket) (model.Ticket, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	general := model.QueueGeneral
	t := model.Ticket{
		ID:             uuid.New(),
		ServiceDay:     model.ServiceDay(now, db.loc),
		ServiceType:    in.ServiceType,
		ServiceSubtype: in.ServiceSubtype,
		Priority:       priority,
		Status:         model.StatusWaiting,
		QueueType:      &general,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := db.inTx(ctx, "create ticket", func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO ticket_day_counters (service_day, last_number) VALUES ($1, 1)
			 ON CONFLICT (service_day) DO UPDATE SET last_number = ticket_day_counters.last_number + 1
			 RETURNING last_number`,
			t.ServiceDay,
		).Scan(&t.Number); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO tickets (id, number, service_day, service_type, service_subtype, priority, status,
			                      queue_type, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.Number, t.ServiceDay, t.ServiceType, t.ServiceSubtype, string(t.Priority),
			string(t.Status), string(general), t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return model.Ticket{}, mapErr("create ticket", err)
	}
	return t, nil
}

// UpdateTicket applies a partial update. Cleared fields are written as NULL.
func (db *DB) UpdateTicket(ctx context.Context, id uuid.UUID, p model.TicketPatch) error {
	var b setBuilder
	setOpt(&b, "service_type", p.ServiceType)
	setText(&b, "priority", p.Priority)
	setText(&b, "status", p.Status)
	setText(&b, "queue_type", p.QueueType)
	setOpt(&b, "assigned_to_employee", p.AssignedToEmployee)
	setOpt(&b, "queued_for_employee", p.QueuedForEmployee)
	setOpt(&b, "served_by", p.ServedBy)
	setOpt(&b, "served_at", p.ServedAt)
	setOpt(&b, "derived_from", p.DerivedFrom)
	setOpt(&b, "derived_to", p.DerivedTo)
	setOpt(&b, "derived_at", p.DerivedAt)
	setOpt(&b, "derivation_reason", p.DerivationReason)
	setOpt(&b, "derivation_comment", p.DerivationComment)
	setOpt(&b, "completed_at", p.CompletedAt)
	setOpt(&b, "cancelled_at", p.CancelledAt)
	setOpt(&b, "wait_time", p.WaitTime)
	setOpt(&b, "service_time", p.ServiceTime)
	setOpt(&b, "total_time", p.TotalTime)
	setOpt(&b, "cancellation_reason", p.CancellationReason)
	setOpt(&b, "cancellation_comment", p.CancellationComment)
	setOpt(&b, "cancelled_by", p.CancelledBy)
	if b.empty() {
		return nil
	}

	query, args := b.sql("tickets", id)
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapErr("update ticket", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(fmt.Sprintf("update ticket %s", id), pgx.ErrNoRows)
	}
	return nil
}

// GetTicket returns one ticket, normalised.
func (db *DB) GetTicket(ctx context.Context, id uuid.UUID) (model.Ticket, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err != nil {
		return model.Ticket{}, mapErr(fmt.Sprintf("get ticket %s", id), err)
	}
	t.NormalizeLegacy()
	return t, nil
}

// GetAllTickets returns every ticket in creation order, normalised.
func (db *DB) GetAllTickets(ctx context.Context) ([]model.Ticket, error) {
	tickets, err := db.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at, number, id`)
	if err != nil {
		return nil, mapErr("list tickets", err)
	}
	for i := range tickets {
		tickets[i].NormalizeLegacy()
	}
	return tickets, nil
}

// ListLegacyTickets returns rows still in the queued_for_employee shape, as stored.
func (db *DB) ListLegacyTickets(ctx context.Context) ([]model.Ticket, error) {
	tickets, err := db.queryTickets(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE status = $1 ORDER BY created_at, id`,
		string(model.StatusQueuedForEmployee))
	if err != nil {
		return nil, mapErr("list legacy tickets", err)
	}
	return tickets, nil
}

func (db *DB) queryTickets(ctx context.Context, query string, args ...any) ([]model.Ticket, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (model.Ticket, error) {
	var (
		t                model.Ticket
		priority, status string
		queueType        *string
	)
	err := row.Scan(
		&t.ID, &t.Number, &t.ServiceDay, &t.ServiceType, &t.ServiceSubtype, &priority, &status,
		&queueType, &t.AssignedToEmployee, &t.QueuedForEmployee, &t.ServedBy, &t.ServedAt,
		&t.DerivedFrom, &t.DerivedTo, &t.DerivedAt, &t.DerivationReason, &t.DerivationComment,
		&t.CreatedAt, &t.CompletedAt, &t.CancelledAt, &t.WaitTime, &t.ServiceTime, &t.TotalTime,
		&t.CancellationReason, &t.CancellationComment, &t.CancelledBy, &t.UpdatedAt,
	)
	if err != nil {
		return model.Ticket{}, err
	}
	t.Priority = model.Priority(priority)
	t.Status = model.TicketStatus(status)
	if queueType != nil {
		qt := model.QueueType(*queueType)
		t.QueueType = &qt
	}
	return t, nil
}
