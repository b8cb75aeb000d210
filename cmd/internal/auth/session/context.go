package session

import "context"

type principalIDContextKey struct{}

// WithPrincipalID binds a verified subject id to ctx.
func WithPrincipalID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, principalIDContextKey{}, id)
}

// PrincipalIDFromContext returns the id bound by WithPrincipalID.
func PrincipalIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(principalIDContextKey{}).(string)
	return id, id != ""
}
