package aethergate

import "context"

type principalContextKey struct{}

// Principal is what the authentication middleware attaches to a request that
// passed: the validated user, the raw token and the user's context
// classifier.
type Principal struct {
	User    *UserContext
	Token   string
	Context ContextType
}

// WithPrincipal attaches p to ctx. Middleware calls it after a successful
// validation; later gates read it back with [PrincipalFromContext].
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal attached by the authentication
// middleware, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || p == nil || p.User == nil {
		return nil, false
	}
	return p, true
}

// UserFromContext is shorthand for the principal's user.
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	return p.User, true
}
