package auth

import (
	"context"
	"time"
)

// AuthenticatedInfo is the identity record produced by the connect-time token
// validator. The land runtime consumes it as an opaque value: explicit join
// fields take priority over it, and it takes priority over a guest identity.
type AuthenticatedInfo struct {
	PlayerID string
	DeviceID string
	Metadata map[string]interface{}

	IssuedAt  time.Time
	ExpiresAt time.Time
	RawClaims map[string]interface{}
}

type contextKey struct{}

// NewContext returns a new context carrying the authenticated info.
func NewContext(ctx context.Context, info *AuthenticatedInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext extracts the authenticated info from the context, if present.
func FromContext(ctx context.Context) *AuthenticatedInfo {
	info, _ := ctx.Value(contextKey{}).(*AuthenticatedInfo)
	return info
}
