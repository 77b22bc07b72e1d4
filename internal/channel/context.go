// ABOUTME: Context propagation for verified claims through request handlers
// ABOUTME: Provides WithClaims/FromContext in the usual middleware pattern

package channel

import "context"

// claimsContextKey is the key type for storing Claims in context.Context.
type claimsContextKey struct{}

// WithClaims returns a new context with the verified claims attached.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// FromContext retrieves the verified claims, returning nil if not present.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return claims
}

// MustFromContext retrieves the verified claims, panicking if not present.
// For handlers that are only ever mounted behind an adapter.
func MustFromContext(ctx context.Context) *Claims {
	claims := FromContext(ctx)
	if claims == nil {
		panic("channel: Claims not found in context")
	}
	return claims
}
