// Package audit records derivation events to an append-only log.
//
// Sinks only ever insert. The Postgres sink lives in internal/storage next to
// the rest of the schema; this package holds the contract, a structured-log
// sink and a local SQLite sink for single-node deployments.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/turno/internal/ctxutil"
	"github.com/ashita-ai/turno/internal/model"
)

// Entry is one audited derivation: the record plus the state of every party
// right after the hand-off.
type Entry struct {
	Record model.DerivationRecord
	Ticket model.Ticket
	Source model.Employee
	Target *model.Employee // nil for general-queue derivations
	Meta   ctxutil.AuditMeta
	At     time.Time
}

// Sink appends audit entries.
type Sink interface {
	LogDerivation(ctx context.Context, e Entry) error
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink { return &LogSink{logger: logger} }

// LogDerivation implements Sink.
func (s *LogSink) LogDerivation(_ context.Context, e Entry) error {
	attrs := []any{
		"derivation_id", e.Record.ID,
		"ticket_id", e.Ticket.ID,
		"ticket_number", e.Ticket.Number,
		"type", e.Record.Type,
		"status", e.Record.Status,
		"from", e.Source.ID,
		"reason", e.Record.Reason,
		"actor_id", e.Meta.ActorID,
		"actor_role", e.Meta.ActorRole,
	}
	if e.Target != nil {
		attrs = append(attrs, "to", e.Target.ID)
	}
	s.logger.Info("audit: derivation", attrs...)
	return nil
}

// Recorder wraps a Sink so failures are logged, never returned.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

// NewRecorder wraps sink. A nil sink records nothing.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Record appends e, filling in At and the caller metadata from ctx.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Meta == (ctxutil.AuditMeta{}) {
		e.Meta = ctxutil.AuditMetaFromContext(ctx)
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.sink.LogDerivation(writeCtx, e); err != nil {
		r.logger.Warn("audit: write failed",
			"derivation_id", e.Record.ID, "ticket_id", e.Ticket.ID, "error", err)
	}
}
