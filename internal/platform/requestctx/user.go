// Package requestctx carries the authenticated caller through request
// contexts.
package requestctx

import "context"

// Identity is the caller resolved from a bearer token. The zero value is an
// anonymous caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// identityContextKey is the context key for authenticated caller identity.
type identityContextKey struct{}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, who Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey{}, who)
}

// IdentityFromContext returns the caller stored in context.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	who, _ := ctx.Value(identityContextKey{}).(Identity)
	return who
}

// UserIDFromContext returns the caller's user id, or "" for anonymous calls.
func UserIDFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).UserID
}
