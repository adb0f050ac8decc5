package shared

import "context"

// Actor identifies the trusted user performing a workflow transition.
// Authorization happens upstream; the engine only records identity for audit.
type Actor struct {
	ID   int64
	Name string
}

// Valid reports whether the actor carries a usable identity.
func (a Actor) Valid() bool {
	return a.ID != 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
