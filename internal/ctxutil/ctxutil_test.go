package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestActorDefaultsToSystem(t *testing.T) {
	assert.Equal(t, SystemActor, ActorFromContext(context.Background()))
}

func TestAuditMetaFromContext(t *testing.T) {
	id := uuid.New()
	ctx := WithActor(context.Background(), Actor{ID: id, Role: "supervisor"})
	ctx = WithRequestID(ctx, "req-1")

	m := AuditMetaFromContext(ctx)
	assert.Equal(t, "req-1", m.RequestID)
	assert.Equal(t, id, m.ActorID)
	assert.Equal(t, "supervisor", m.ActorRole)
}
