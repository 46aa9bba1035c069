// Package auth resolves callers to identities and issues the bearer tokens
// they present. Identity resolution never aborts a request by itself: a
// caller that cannot be resolved simply has no Identity, and the service
// layer decides whether that is an error.
package auth

import (
	"context"
	"net/http"
)

// Identity is a resolved caller.
type Identity struct {
	UserID   uint
	Username string
}

// Authenticator resolves an inbound HTTP request to an Identity.
// ok is false when the caller is anonymous or the credentials are invalid.
type Authenticator interface {
	Resolve(r *http.Request) (id Identity, ok bool)
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the Identity stored by WithIdentity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
