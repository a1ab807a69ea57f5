package turno

import "context"

// NotificationSink receives every notification the dispatch core emits, in
// addition to the configured sinks. Delivery is best-effort: an error is
// logged and counted but never fails the workflow that produced it.
// Register with WithNotificationSink.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditSink replaces the configured audit sink (TURNO_AUDIT_SINK). It must
// only ever append. Failures are logged and never fail the derivation.
// Register with WithAuditSink.
type AuditSink interface {
	LogDerivation(ctx context.Context, e AuditEntry) error
}
