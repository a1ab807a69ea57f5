// Package ctxutil provides shared context key accessors.
//
// Callers attach who is acting (an agent, a supervisor, the reconciler) and a
// request id at the edge; services and sinks read them back without knowing
// how they got there.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyActor     contextKey = "actor"
	keyRequestID contextKey = "request_id"
)

// Actor identifies who triggered a workflow.
type Actor struct {
	ID   uuid.UUID // uuid.Nil for system actors
	Role string    // "agent", "supervisor", "system"
}

// SystemActor is used by background workers.
var SystemActor = Actor{Role: "system"}

// WithActor returns a new context carrying the given actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, keyActor, a)
}

// ActorFromContext extracts the actor from the context, SystemActor if none.
func ActorFromContext(ctx context.Context) Actor {
	if v, ok := ctx.Value(keyActor).(Actor); ok {
		return v
	}
	return SystemActor
}

// WithRequestID returns a new context carrying a request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
