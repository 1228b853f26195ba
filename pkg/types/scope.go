package types

import "context"

// Scope is the ambient caller context of a record operation: who is
// acting and in which owning project. It is threaded through
// context.Context so the engine never reads process-wide state.
type Scope struct {
	ActorID        string `json:"actor_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	SuperUser      bool   `json:"super_user,omitempty"`
	AccountManager bool   `json:"account_manager,omitempty"`
}

// Privileged reports whether the actor bypasses per-project access checks.
func (s Scope) Privileged() bool {
	return s.SuperUser || s.AccountManager
}

type scopeKey struct{}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}
