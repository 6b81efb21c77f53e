package auth

import "context"

type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Actor identifies who is performing an operation: a parent or a child,
// resolved by the session layer. Permission checks in the task and ledger
// layers key off this, independent of whatever the transport verified.
type Actor struct {
	Role     Role
	ID       int64
	FamilyID int64
}

func (a Actor) IsParent() bool { return a.Role == RoleParent }
func (a Actor) IsChild() bool  { return a.Role == RoleChild }

type contextKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}

func FamilyID(ctx context.Context) int64 {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return 0
	}
	return actor.FamilyID
}
