package access

import "context"

// Identity is the request-scoped authenticated identity produced by the
// external login flow. An empty ActiveProfileID means account-level
// access: the holder is operating outside any dependent profile.
type Identity struct {
	AccountID       string
	ActiveProfileID string
}

type identityContextKey struct{}
type decisionContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || v.AccountID == "" {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithDecision stores the per-request access decision so that the
// checks in a middleware chain share one resolution. The decision must
// never outlive the request that produced it.
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, &d)
}

// DecisionFromContext returns the access decision resolved earlier in the
// request, if any.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	if ctx == nil {
		return Decision{}, false
	}
	v, ok := ctx.Value(decisionContextKey{}).(*Decision)
	if !ok || v == nil {
		return Decision{}, false
	}
	return *v, true
}
