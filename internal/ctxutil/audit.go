package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

// AuditMeta carries the caller metadata recorded with every audit entry.
// It lives in ctxutil so audit sinks and services share it without
// importing each other.
type AuditMeta struct {
	RequestID string
	ActorID   uuid.UUID
	ActorRole string
}

// AuditMetaFromContext collects the audit metadata present on ctx.
func AuditMetaFromContext(ctx context.Context) AuditMeta {
	a := ActorFromContext(ctx)
	return AuditMeta{
		RequestID: RequestIDFromContext(ctx),
		ActorID:   a.ID,
		ActorRole: a.Role,
	}
}
