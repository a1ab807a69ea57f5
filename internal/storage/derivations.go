package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/turno/internal/model"
)

const derivationColumns = `id, ticket_id, from_employee_id, to_employee_id, derivation_type,
	reason, comment, new_service_type, derived_at, status, resolved_at`

// CreateDerivation appends a derivation record. Only status and resolved_at
// change afterwards.
func (db *DB) CreateDerivation(ctx context.Context, rec model.DerivationRecord) (model.DerivationRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.DerivedAt.IsZero() {
		rec.DerivedAt = time.Now().UTC()
	}
	rec.DerivedAt = rec.DerivedAt.Truncate(time.Microsecond)
	if rec.Status == "" {
		rec.Status = model.DerivationPending
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO derivations (`+derivationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.TicketID, rec.FromEmployeeID, rec.ToEmployeeID, string(rec.Type),
		rec.Reason, rec.Comment, rec.NewServiceType, rec.DerivedAt, string(rec.Status), rec.ResolvedAt,
	)
	if err != nil {
		return model.DerivationRecord{}, mapErr("create derivation", err)
	}
	return rec, nil
}

// UpdateDerivationStatus moves a record to status and stamps resolved_at.
func (db *DB) UpdateDerivationStatus(ctx context.Context, id uuid.UUID, status model.DerivationStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE derivations SET status = $1, resolved_at = now() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return mapErr("update derivation status", err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(fmt.Sprintf("update derivation %s", id), pgx.ErrNoRows)
	}
	return nil
}

// GetDerivation returns one record.
func (db *DB) GetDerivation(ctx context.Context, id uuid.UUID) (model.DerivationRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+derivationColumns+` FROM derivations WHERE id = $1`, id)
	rec, err := scanDerivation(row)
	if err != nil {
		return model.DerivationRecord{}, mapErr(fmt.Sprintf("get derivation %s", id), err)
	}
	return rec, nil
}

// ListDerivations returns every record, oldest first.
func (db *DB) ListDerivations(ctx context.Context) ([]model.DerivationRecord, error) {
	out, err := db.queryDerivations(ctx, `SELECT `+derivationColumns+` FROM derivations ORDER BY derived_at, id`)
	if err != nil {
		return nil, mapErr("list derivations", err)
	}
	return out, nil
}

// ListPendingForAgent returns the pending personal-queue derivations
// addressed to agentID, oldest first.
func (db *DB) ListPendingForAgent(ctx context.Context, agentID uuid.UUID) ([]model.DerivationRecord, error) {
	out, err := db.queryDerivations(ctx,
		`SELECT `+derivationColumns+` FROM derivations
		 WHERE to_employee_id = $1 AND status = $2
		 ORDER BY derived_at, id`,
		agentID, string(model.DerivationPending))
	if err != nil {
		return nil, mapErr("list pending derivations", err)
	}
	return out, nil
}

func (db *DB) queryDerivations(ctx context.Context, query string, args ...any) ([]model.DerivationRecord, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DerivationRecord
	for rows.Next() {
		rec, err := scanDerivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDerivation(row pgx.Row) (model.DerivationRecord, error) {
	var (
		rec         model.DerivationRecord
		typ, status string
	)
	err := row.Scan(
		&rec.ID, &rec.TicketID, &rec.FromEmployeeID, &rec.ToEmployeeID, &typ,
		&rec.Reason, &rec.Comment, &rec.NewServiceType, &rec.DerivedAt, &status, &rec.ResolvedAt,
	)
	if err != nil {
		return model.DerivationRecord{}, err
	}
	rec.Type = model.DerivationType(typ)
	rec.Status = model.DerivationStatus(status)
	return rec, nil
}
