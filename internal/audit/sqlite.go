package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS derivation_audit_log (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    derivation_id    TEXT    NOT NULL,
    ticket_id        TEXT    NOT NULL,
    ticket_number    INTEGER NOT NULL,
    derivation_type  TEXT    NOT NULL,
    status           TEXT    NOT NULL,
    from_employee_id TEXT    NOT NULL,
    to_employee_id   TEXT,
    reason           TEXT    NOT NULL,
    request_id       TEXT    NOT NULL DEFAULT '',
    actor_id         TEXT    NOT NULL DEFAULT '',
    actor_role       TEXT    NOT NULL DEFAULT '',
    ticket_data      TEXT    NOT NULL,
    source_data      TEXT    NOT NULL,
    target_data      TEXT,
    logged_at        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS derivation_audit_log_ticket ON derivation_audit_log(ticket_id);
CREATE TRIGGER IF NOT EXISTS derivation_audit_log_no_update
BEFORE UPDATE ON derivation_audit_log
BEGIN SELECT RAISE(ABORT, 'derivation_audit_log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS derivation_audit_log_no_delete
BEFORE DELETE ON derivation_audit_log
BEGIN SELECT RAISE(ABORT, 'derivation_audit_log is append-only'); END;
`

// SQLiteSink appends audit entries to a local SQLite file.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the audit database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite %s: %w", path, err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent sagas,
	// and keeps ":memory:" pointing at a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: create sqlite schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// LogDerivation implements Sink.
func (s *SQLiteSink) LogDerivation(ctx context.Context, e Entry) error {
	ticketJSON, err := json.Marshal(e.Ticket)
	if err != nil {
		return fmt.Errorf("audit: marshal ticket: %w", err)
	}
	sourceJSON, err := json.Marshal(e.Source)
	if err != nil {
		return fmt.Errorf("audit: marshal source agent: %w", err)
	}
	var (
		targetJSON sql.NullString
		targetID   sql.NullString
	)
	if e.Target != nil {
		b, err := json.Marshal(e.Target)
		if err != nil {
			return fmt.Errorf("audit: marshal target agent: %w", err)
		}
		targetJSON = sql.NullString{String: string(b), Valid: true}
		targetID = sql.NullString{String: e.Target.ID.String(), Valid: true}
	}
	actorID := ""
	if e.Meta.ActorID != uuid.Nil {
		actorID = e.Meta.ActorID.String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO derivation_audit_log (
		     derivation_id, ticket_id, ticket_number, derivation_type, status,
		     from_employee_id, to_employee_id, reason,
		     request_id, actor_id, actor_role,
		     ticket_data, source_data, target_data, logged_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Record.ID.String(), e.Ticket.ID.String(), e.Ticket.Number, string(e.Record.Type), string(e.Record.Status),
		e.Source.ID.String(), targetID, e.Record.Reason,
		e.Meta.RequestID, actorID, e.Meta.ActorRole,
		string(ticketJSON), string(sourceJSON), targetJSON, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: insert sqlite entry: %w", err)
	}
	return nil
}

// CountForTicket returns how many entries exist for ticketID.
func (s *SQLiteSink) CountForTicket(ctx context.Context, ticketID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM derivation_audit_log WHERE ticket_id = ?`, ticketID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit: count sqlite entries: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
