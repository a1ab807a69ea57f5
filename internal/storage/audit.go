package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/turno/internal/audit"
)

// LogDerivation appends a derivation audit entry. The target table rejects
// UPDATE and DELETE.
func (db *DB) LogDerivation(ctx context.Context, e audit.Entry) error {
	ticketJSON, err := json.Marshal(e.Ticket)
	if err != nil {
		return fmt.Errorf("storage: marshal audit ticket: %w", err)
	}
	sourceJSON, err := json.Marshal(e.Source)
	if err != nil {
		return fmt.Errorf("storage: marshal audit source agent: %w", err)
	}
	var (
		targetJSON []byte
		targetID   *uuid.UUID
	)
	if e.Target != nil {
		if targetJSON, err = json.Marshal(e.Target); err != nil {
			return fmt.Errorf("storage: marshal audit target agent: %w", err)
		}
		targetID = &e.Target.ID
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO derivation_audit_log (
			derivation_id, ticket_id, ticket_number, derivation_type, status,
			from_employee_id, to_employee_id, reason,
			request_id, actor_id, actor_role,
			ticket_data, source_data, target_data, logged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.Record.ID, e.Ticket.ID, e.Ticket.Number, string(e.Record.Type), string(e.Record.Status),
		e.Source.ID, targetID, e.Record.Reason,
		e.Meta.RequestID, e.Meta.ActorID, e.Meta.ActorRole,
		ticketJSON, sourceJSON, targetJSON, e.At,
	)
	if err != nil {
		return mapErr("insert derivation audit", err)
	}
	return nil
}

// CountAuditForTicket returns how many audit entries reference ticketID.
func (db *DB) CountAuditForTicket(ctx context.Context, ticketID uuid.UUID) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM derivation_audit_log WHERE ticket_id = $1`, ticketID,
	).Scan(&n); err != nil {
		return 0, mapErr("count derivation audit", err)
	}
	return n, nil
}
