// ABOUTME: WebSocket adapter verifying tokens at handshake time only
// ABOUTME: Connection lifetime is bounded by the token's exp, not left to defaults

package channel

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/keygate/internal/token"
)

// WSHandler serves an accepted, authenticated duplex connection. The
// context is cancelled at the token's exp; the connection is closed with a
// policy-violation code shortly after.
type WSHandler func(ctx context.Context, conn *websocket.Conn, claims *Claims)

// wsTokenParam is the query parameter carrying the token on the upgrade
// request. Browsers cannot set headers on WebSocket handshakes.
const wsTokenParam = "token"

// WebSocketHandler verifies the upgrade request and hands the accepted
// connection to handler. Verification happens once, at handshake time; it
// is not re-run per message. A failed verification rejects the handshake
// outright with the same opaque 401 the other channels use.
func (a *Adapter) WebSocketHandler(handler WSHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get(wsTokenParam)
		if tokenString == "" {
			a.unauthorized(w, token.AudienceWS, "missing token parameter", nil)
			return
		}
		claims, err := a.authenticate(r.Context(), tokenString, token.AudienceWS)
		if err != nil {
			a.unauthorized(w, token.AudienceWS, "verification failed", err)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			a.logger.Debug("websocket accept failed", "error", err)
			return
		}

		// Handshake-time verification pins authorization to the token's
		// exp; the connection must not outlive it. A watchdog performs the
		// close handshake with a policy-violation code, then cancels the
		// handler context.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		expiry := time.NewTimer(time.Until(claims.ExpiresAt))
		defer expiry.Stop()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-done:
			case <-ctx.Done():
			case <-expiry.C:
				a.logger.Debug("closing connection at token expiry", "device_id", claims.DeviceID)
				_ = conn.Close(websocket.StatusPolicyViolation, "token expired")
				cancel()
			}
		}()

		handler(ctx, conn, claims)
	})
}
