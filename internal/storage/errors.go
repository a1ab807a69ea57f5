package storage

import (
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/turno/internal/model"
)

// mapErr wraps a driver error with the operation name and, where it applies,
// the model sentinel callers check with errors.Is.
func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("storage: %s: %w", op, model.ErrNotFound)
	case unavailable(err):
		return fmt.Errorf("storage: %s: %w: %w", op, model.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("storage: %s: %w", op, err)
	}
}

// unavailable reports connection-level failures, as opposed to errors the
// server returned for a statement.
func unavailable(err error) bool {
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08": // connection_exception
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03": // admin_shutdown, cannot_connect_now
			return true
		}
	}
	return false
}
