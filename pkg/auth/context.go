package auth

import (
	"context"

	"github.com/rhuss/vibe/pkg/storage"
)

type identityKey struct{}

// WithIdentity attaches the caller to ctx and scopes storage to the
// caller's owner key. Instructors and anonymous callers stay unscoped.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	if owner := id.Owner(); owner != "" {
		ctx = storage.SetTenant(ctx, owner)
	}
	return ctx
}

// IdentityFromContext returns the caller, or nil when none was attached.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
