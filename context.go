package cookieauth

import "context"

type authContextKey struct{}

// WithAuth attaches a to ctx. The middleware packages call it after
// Authenticate; handlers and guards read it back with FromContext.
func WithAuth(ctx context.Context, a *Auth) context.Context {
	return context.WithValue(ctx, authContextKey{}, a)
}

// FromContext returns the Auth attached to ctx.
func FromContext(ctx context.Context) (*Auth, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(authContextKey{}).(*Auth)
	return a, ok && a != nil
}
