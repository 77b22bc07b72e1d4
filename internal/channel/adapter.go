// ABOUTME: Transport adapters binding the verification core to http, ws, and sse
// ABOUTME: Every rejection is the same opaque 401 or close, whatever the reason

package channel

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/keygate/internal/token"
)

// LastUsedRecorder receives a notification when a credential successfully
// verified a token. Implemented by the registry; may be nil.
type LastUsedRecorder interface {
	TouchLastUsed(ctx context.Context, id string) error
}

// Adapter wires the shared verification core to the three transports.
type Adapter struct {
	verifier *Verifier
	recorder LastUsedRecorder
	logger   *slog.Logger
}

// NewAdapter creates an adapter. recorder may be nil to skip last-used
// bookkeeping.
func NewAdapter(verifier *Verifier, recorder LastUsedRecorder) *Adapter {
	return &Adapter{
		verifier: verifier,
		recorder: recorder,
		logger:   slog.Default().With("component", "channel"),
	}
}

// ExtractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func ExtractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	tok := strings.TrimPrefix(authHeader, "Bearer ")
	if tok == "" {
		return "", "empty token"
	}
	return tok, ""
}

// authenticate runs the core verification and, on success, records the
// credential use. The returned error is for logging only.
func (a *Adapter) authenticate(ctx context.Context, tokenString string, aud token.Audience) (*Claims, error) {
	claims, err := a.verifier.Verify(ctx, tokenString, aud)
	if err != nil {
		return nil, err
	}
	if a.recorder != nil {
		if err := a.recorder.TouchLastUsed(ctx, claims.DeviceID); err != nil {
			a.logger.Warn("recording credential use failed", "device_id", claims.DeviceID, "error", err)
		}
	}
	return claims, nil
}

// unauthorized writes the uniform rejection. The internal reason never
// reaches the response; error granularity would hand an attacker an oracle.
func (a *Adapter) unauthorized(w http.ResponseWriter, aud token.Audience, reason string, err error) {
	a.logger.Debug("verification rejected", "aud", aud, "reason", reason, "error", err)
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}

// bearerMiddleware is the shared request/response adapter for the http and
// sse channels, which both carry the token in the Authorization header.
func (a *Adapter) bearerMiddleware(aud token.Audience) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, errMsg := ExtractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				a.unauthorized(w, aud, errMsg, nil)
				return
			}
			claims, err := a.authenticate(r.Context(), tokenString, aud)
			if err != nil {
				a.unauthorized(w, aud, "verification failed", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// HTTPMiddleware protects request/response endpoints. Tokens must carry the
// http audience.
func (a *Adapter) HTTPMiddleware() func(http.Handler) http.Handler {
	return a.bearerMiddleware(token.AudienceHTTP)
}

// SSEMiddleware protects server-push stream endpoints. Tokens must carry
// the sse audience; a rejection is written before any stream bytes.
func (a *Adapter) SSEMiddleware() func(http.Handler) http.Handler {
	return a.bearerMiddleware(token.AudienceSSE)
}
