package turno

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	envFile           string
	databaseURL       string
	notifyURL         string
	memoryStore       bool
	reconcileSchedule *string
	logger            *slog.Logger
	version           string
	now               func() time.Time
	notificationSinks []NotificationSink
	auditSink         AuditSink
}

// WithEnvFile loads variables from path before reading configuration.
// Variables already set in the environment win. Defaults to ".env"; a missing
// file is ignored.
func WithEnvFile(path string) Option {
	return func(o *resolvedOptions) { o.envFile = path }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when using a connection pooler (e.g. PgBouncer) for queries; LISTEN/NOTIFY
// requires a direct (non-pooled) connection.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithMemoryStore keeps all state in process (TURNO_STORE=memory). A Postgres
// audit sink falls back to the log sink, since there is no database to write to.
func WithMemoryStore() Option {
	return func(o *resolvedOptions) { o.memoryStore = true }
}

// WithReconcileSchedule overrides TURNO_RECONCILE_SCHEDULE. An empty spec
// disables scheduled passes; Run still performs one pass at startup.
func WithReconcileSchedule(spec string) Option {
	return func(o *resolvedOptions) { o.reconcileSchedule = &spec }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithClock overrides time.Now for every timestamp the dispatch core writes.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.now = now }
}

// WithNotificationSink registers an extra notification sink.
// Multiple sinks may be registered; all of them receive every notification.
func WithNotificationSink(s NotificationSink) Option {
	return func(o *resolvedOptions) { o.notificationSinks = append(o.notificationSinks, s) }
}

// WithAuditSink replaces the configured audit sink. Only the last call wins.
func WithAuditSink(s AuditSink) Option {
	return func(o *resolvedOptions) { o.auditSink = s }
}
