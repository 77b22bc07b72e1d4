// ABOUTME: HTTP API handlers for enrollment, passkey management, and the three channels
// ABOUTME: Registry conflicts surface with specific codes; verification failures stay opaque

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/keygate/internal/channel"
	"github.com/2389/keygate/internal/registry"
	"github.com/2389/keygate/internal/token"
)

// EnrollRequest is the JSON request body for POST /api/passkeys.
// The public key arrives pre-approved from the enrollment ceremony, as PEM
// SPKI or an OpenSSH authorized-keys line.
type EnrollRequest struct {
	UserID    string `json:"user_id,omitempty"`
	PublicKey string `json:"public_key"`
	Label     string `json:"label,omitempty"`
}

// EnrollResponse is the JSON response for POST /api/passkeys.
type EnrollResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// PasskeyResponse is the JSON representation of one registered credential.
type PasskeyResponse struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	RevokedAt  string `json:"revoked_at,omitempty"`
}

// ListPasskeysResponse is the JSON response for GET /api/passkeys.
type ListPasskeysResponse struct {
	Passkeys []PasskeyResponse `json:"passkeys"`
}

// WhoamiResponse is the JSON response for GET /api/whoami.
type WhoamiResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// routes builds the API mux. Channel protection comes from the adapter;
// enrollment of a brand-new user is the only unauthenticated operation.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	httpAuth := g.adapter.HTTPMiddleware()
	sseAuth := g.adapter.SSEMiddleware()

	mux.HandleFunc("POST /api/passkeys", g.handleEnroll)
	mux.Handle("GET /api/passkeys", httpAuth(http.HandlerFunc(g.handleListPasskeys)))
	mux.Handle("DELETE /api/passkeys/{id}", httpAuth(http.HandlerFunc(g.handleRevokePasskey)))
	mux.Handle("GET /api/whoami", httpAuth(http.HandlerFunc(g.handleWhoami)))
	mux.Handle("GET /api/events", sseAuth(http.HandlerFunc(g.handleEvents)))
	mux.Handle("GET /api/ws", g.adapter.WebSocketHandler(g.handleWS))
	mux.HandleFunc("GET /healthz", g.handleHealth)

	return mux
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to encode response", "error", err)
	}
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code string) {
	g.sendJSON(w, status, map[string]string{"error": code})
}

// handleEnroll handles POST /api/passkeys. Without a user_id it creates a
// new user for the key. With a user_id it adds a key to an existing user
// and requires an http-channel token for that same user.
func (g *Gateway) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	publicKey, err := ParsePublicKey(req.PublicKey)
	if err != nil {
		g.logger.Debug("enrollment key rejected", "error", err)
		g.sendJSONError(w, http.StatusBadRequest, "unsupported public key")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = uuid.NewString()
	} else {
		// Adding a credential to an existing account requires proof of
		// that account, from a device the user already holds.
		tokenString, errMsg := channel.ExtractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := g.verifier.Verify(r.Context(), tokenString, token.AudienceHTTP)
		if err != nil || claims.Subject != userID {
			g.logger.Debug("credential-add rejected", "user_id", userID, "error", err)
			g.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	rec := &registry.PasskeyRecord{
		ID:        token.DeviceID(publicKey),
		UserID:    userID,
		PublicKey: publicKey,
		Label:     req.Label,
	}
	if err := g.registry.Add(r.Context(), rec); err != nil {
		if errors.Is(err, registry.ErrDuplicateDevice) {
			g.sendJSONError(w, http.StatusConflict, "duplicate_device")
			return
		}
		g.logger.Error("failed to register passkey", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.sendJSON(w, http.StatusCreated, EnrollResponse{UserID: userID, DeviceID: rec.ID})
}

// handleListPasskeys handles GET /api/passkeys for the authenticated user.
// Both active and revoked records are returned for audit display.
func (g *Gateway) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	claims := channel.MustFromContext(r.Context())

	records, err := g.registry.List(r.Context(), claims.Subject)
	if err != nil {
		g.logger.Error("failed to list passkeys", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := ListPasskeysResponse{Passkeys: make([]PasskeyResponse, 0, len(records))}
	for _, rec := range records {
		item := PasskeyResponse{
			ID:        rec.ID,
			Label:     rec.Label,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if rec.LastUsedAt != nil {
			item.LastUsedAt = rec.LastUsedAt.UTC().Format(time.RFC3339)
		}
		if rec.RevokedAt != nil {
			item.RevokedAt = rec.RevokedAt.UTC().Format(time.RFC3339)
		}
		resp.Passkeys = append(resp.Passkeys, item)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleRevokePasskey handles DELETE /api/passkeys/{id}. Users can only
// revoke their own credentials; the last active credential is protected.
func (g *Gateway) handleRevokePasskey(w http.ResponseWriter, r *http.Request) {
	claims := channel.MustFromContext(r.Context())
	id := r.PathValue("id")

	records, err := g.registry.List(r.Context(), claims.Subject)
	if err != nil {
		g.logger.Error("failed to list passkeys", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	owned := false
	for _, rec := range records {
		if rec.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		g.sendJSONError(w, http.StatusNotFound, "not_found")
		return
	}

	switch err := g.registry.Revoke(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, registry.ErrLastPasskey):
		g.sendJSONError(w, http.StatusConflict, "last_passkey")
	case errors.Is(err, registry.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not_found")
	default:
		g.logger.Error("failed to revoke passkey", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleWhoami handles GET /api/whoami, echoing the verified identity.
func (g *Gateway) handleWhoami(w http.ResponseWriter, r *http.Request) {
	claims := channel.MustFromContext(r.Context())
	g.sendJSON(w, http.StatusOK, WhoamiResponse{UserID: claims.Subject, DeviceID: claims.DeviceID})
}

// handleEvents handles GET /api/events, the server-push stream. The sse
// adapter has already verified the token; nothing is written before that.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	claims := channel.MustFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "connected", map[string]string{"user_id": claims.Subject, "device_id": claims.DeviceID})
	flusher.Flush()

	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case t := <-ticker.C:
			g.writeSSEEvent(w, "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event with a JSON data payload.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE event", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

// handleWS serves the duplex demo channel: an echo loop. The adapter has
// already verified the handshake token and bounds ctx by its expiry.
func (g *Gateway) handleWS(ctx context.Context, conn *websocket.Conn, claims *channel.Claims) {
	g.logger.Debug("websocket session opened", "user_id", claims.Subject, "device_id", claims.DeviceID)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, typ, data); err != nil {
			return
		}
	}
}

// handleHealth handles GET /healthz.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
