// Package identity carries the trusted caller identity through request contexts.
package identity

import "context"

// System actors used by background jobs.
const (
	SystemCompensation   = "system:compensation-processor"
	SystemReconciliation = "system:auto-reconcile"
)

// Actor is who performed an operation, on whose behalf, and in which workspace.
type Actor struct {
	ActorID     string `json:"actor_id"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Role        string `json:"role,omitempty"`
}

// System returns an actor for an internal job.
func System(name string) Actor {
	return Actor{ActorID: name, UserID: name, Role: "system"}
}

type contextKey struct{}

// WithActor stores a in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the actor stored in ctx, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
