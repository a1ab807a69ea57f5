package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/ctxutil"
	"github.com/ashita-ai/turno/internal/model"
)

// testutil imports storage, which imports this package.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(target bool) Entry {
	src := model.Employee{ID: uuid.New(), Name: "A"}
	tk := model.Ticket{ID: uuid.New(), Number: 12, Status: model.StatusWaiting}
	e := Entry{
		Record: model.DerivationRecord{
			ID: uuid.New(), TicketID: tk.ID, FromEmployeeID: src.ID,
			Type: model.DerivationToGeneralQueue, Reason: "wrong desk",
			Status: model.DerivationAutoAssigned, DerivedAt: time.Now(),
		},
		Ticket: tk,
		Source: src,
		At:     time.Now(),
	}
	if target {
		to := model.Employee{ID: uuid.New(), Name: "B"}
		e.Target = &to
		e.Record.ToEmployeeID = &to.ID
		e.Record.Type = model.DerivationToEmployee
	}
	return e
}

func TestSQLiteSinkAppends(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	e := entry(true)
	e.Meta = ctxutil.AuditMeta{RequestID: "r1", ActorID: uuid.New(), ActorRole: "agent"}
	require.NoError(t, s.LogDerivation(ctx, e))
	require.NoError(t, s.LogDerivation(ctx, entry(false)))

	n, err := s.CountForTicket(ctx, e.Ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSinkIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.LogDerivation(ctx, entry(false)))
	_, err = s.db.ExecContext(ctx, `DELETE FROM derivation_audit_log`)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE derivation_audit_log SET reason = 'x'`)
	assert.Error(t, err)
}

type failingSink struct{ calls int }

func (f *failingSink) LogDerivation(context.Context, Entry) error {
	f.calls++
	return errors.New("disk full")
}

type captureSink struct{ got []Entry }

func (c *captureSink) LogDerivation(_ context.Context, e Entry) error {
	c.got = append(c.got, e)
	return nil
}

func TestRecorderSwallowsErrors(t *testing.T) {
	t.Parallel()
	f := &failingSink{}
	NewRecorder(f, quietLogger()).Record(context.Background(), entry(false))
	assert.Equal(t, 1, f.calls)

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), entry(false))
	NewRecorder(nil, quietLogger()).Record(context.Background(), entry(false))
}

func TestRecorderFillsMetaFromContext(t *testing.T) {
	t.Parallel()
	c := &captureSink{}
	actor := uuid.New()
	ctx := ctxutil.WithActor(context.Background(), ctxutil.Actor{ID: actor, Role: "agent"})
	e := entry(false)
	e.At = time.Time{}
	NewRecorder(c, quietLogger()).Record(ctx, e)

	require.Len(t, c.got, 1)
	assert.Equal(t, actor, c.got[0].Meta.ActorID)
	assert.False(t, c.got[0].At.IsZero())
}

func TestLogSink(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewLogSink(quietLogger()).LogDerivation(context.Background(), entry(true)))
}
