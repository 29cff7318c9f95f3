package auth

import (
	"context"
)

type contextKey string

const actorKey contextKey = "actor"

// SystemActor is recorded when no identity was attached to the context, for
// example when the scheduler or the trigger monitor drives an operation.
const SystemActor = "system"

// ContextWithActor returns a new context carrying the authenticated actor id.
// Authorization decisions happen before the engine is invoked; the engine
// only records who acted.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the actor id from the context, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(actorKey)
	if value == nil {
		return "", false
	}
	actor, ok := value.(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// ActorOrSystem returns the context actor, falling back to SystemActor.
func ActorOrSystem(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return SystemActor
}
