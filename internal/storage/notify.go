package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Postgres LISTEN/NOTIFY channels. Row triggers publish the changed id on the
// entity channels; notifications for people go out on turno_notifications.
const (
	ChannelTickets     = "turno_tickets"
	ChannelEmployees   = "turno_employees"
	ChannelDerivations = "turno_derivations"
)

var errNoNotifyConn = errors.New("storage: notify connection not configured")

// listener returns the current LISTEN connection.
func (db *DB) listener() (*pgx.Conn, error) {
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	if db.notifyConn == nil {
		return nil, errNoNotifyConn
	}
	return db.notifyConn, nil
}

// Listen subscribes the dedicated notify connection to channels. The set is
// remembered and replayed by reconnectListener.
func (db *DB) Listen(ctx context.Context, channels ...string) error {
	conn, err := db.listener()
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return mapErr("listen "+ch, err)
		}
	}
	db.notifyMu.Lock()
	for _, ch := range channels {
		db.listening[ch] = struct{}{}
	}
	db.notifyMu.Unlock()
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened channel.
// Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	conn, err := db.listener()
	if err != nil {
		return "", "", err
	}
	n, err := conn.WaitForNotification(ctx)
	if err != nil {
		return "", "", mapErr("wait for notification", err)
	}
	return n.Channel, n.Payload, nil
}

// reconnectListener replaces a broken notify connection with a fresh one and
// re-issues LISTEN for every channel subscribed so far. Notifications sent
// while the connection was down are lost; callers reload what they track.
func (db *DB) reconnectListener(ctx context.Context) error {
	if db.notifyDSN == "" {
		return errNoNotifyConn
	}
	conn, err := pgx.Connect(ctx, db.notifyDSN)
	if err != nil {
		return mapErr("reconnect notify", err)
	}

	db.notifyMu.Lock()
	old := db.notifyConn
	db.notifyConn = conn
	channels := make([]string, 0, len(db.listening))
	for ch := range db.listening {
		channels = append(channels, ch)
	}
	db.notifyMu.Unlock()

	if old != nil {
		_ = old.Close(ctx)
	}
	if err := db.Listen(ctx, channels...); err != nil {
		return fmt.Errorf("storage: re-listen after reconnect: %w", err)
	}
	db.logger.Info("storage: notify connection re-established", "channels", channels)
	return nil
}

// Notify sends a notification on the specified channel through the pool.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return mapErr("notify "+channel, err)
	}
	return nil
}
