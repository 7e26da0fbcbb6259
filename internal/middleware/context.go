package middleware

import "context"

type contextKey string

const principalKey contextKey = "principal"

// Principal is the verified identity-token claim set for one request. It is
// resolved once at the HTTP boundary and threaded through the context; it
// is never cached across requests.
type Principal struct {
	Subject   string
	Name      string
	Email     string
	AvatarURL string
}

// GetPrincipal returns the request's principal, or nil for an
// unauthenticated request.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// WithPrincipal returns a context carrying the principal. Exported for
// handler tests.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
