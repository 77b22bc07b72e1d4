// ABOUTME: Keygate API client wrapping the device key, minter, and HTTP calls
// ABOUTME: Streams SSE events and dials the ws channel with per-audience tokens

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/2389/keygate/internal/device"
	"github.com/2389/keygate/internal/token"
)

// EnrollRequest is the request body for POST /api/passkeys.
type EnrollRequest struct {
	UserID    string `json:"user_id,omitempty"`
	PublicKey string `json:"public_key"`
	Label     string `json:"label,omitempty"`
}

// EnrollResponse is the response body for POST /api/passkeys.
type EnrollResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// WhoamiResponse is the response body for GET /api/whoami.
type WhoamiResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// Passkey is one credential in the GET /api/passkeys response.
type Passkey struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	RevokedAt  string `json:"revoked_at,omitempty"`
}

type passkeysResponse struct {
	Passkeys []Passkey `json:"passkeys"`
}

// Client talks to a keygate server on behalf of this device. The device key
// lives in the state dir and is created on first use.
type Client struct {
	cfg    *Config
	http   *http.Client
	keys   *device.KeyStore
	ident  *device.IdentityManager
	minter *device.Minter
}

// NewClient creates a client from config. No network or disk access happens
// until a command runs.
func NewClient(cfg *Config) *Client {
	keys := device.NewKeyStore(cfg.Device.StateDir)
	ident := device.NewIdentityManager(keys)
	minter := device.NewMinter(ident, keys, device.MinterConfig{
		TTL:       cfg.Tokens.ttl,
		Skew:      cfg.Tokens.skew,
		Namespace: cfg.Tokens.Namespace,
	})
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		keys:   keys,
		ident:  ident,
		minter: minter,
	}
}

// Enroll registers this device's public key with the server and binds the
// returned user locally. userID may be empty to create a new user; adding to
// an existing user requires being logged in as that user on another device,
// so this client path only covers the new-user case plus self-vouched adds.
func (c *Client) Enroll(ctx context.Context, userID, label string) (*EnrollResponse, error) {
	if err := c.keys.EnsureKeyMaterial(ctx); err != nil {
		return nil, err
	}
	pemBytes, err := c.keys.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	req := EnrollRequest{UserID: userID, PublicKey: string(pemBytes), Label: label}
	var bearer string
	if userID != "" {
		// Adding this key to an existing user needs that user's proof.
		if _, err := c.Login(ctx, userID); err != nil {
			return nil, err
		}
		bearer, err = c.Token(ctx, token.AudienceHTTP)
		if err != nil {
			return nil, fmt.Errorf("an existing device must vouch for this one: %w", err)
		}
	}

	var enrolled EnrollResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/passkeys", bearer, req, &enrolled); err != nil {
		return nil, err
	}

	if _, err := c.ident.BindIdentity(ctx, enrolled.UserID); err != nil {
		return nil, err
	}
	if err := saveSession(c.cfg.Device.StateDir, &Session{UserID: enrolled.UserID}); err != nil {
		return nil, err
	}
	return &enrolled, nil
}

// Login binds the device to userID and saves the session. The server is not
// consulted; a wrong user simply yields tokens the server will reject.
func (c *Client) Login(ctx context.Context, userID string) (*device.Identity, error) {
	ident, err := c.ident.BindIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := saveSession(c.cfg.Device.StateDir, &Session{UserID: userID}); err != nil {
		return nil, err
	}
	return ident, nil
}

// Token returns a token for the audience, minting if the cache is stale.
func (c *Client) Token(ctx context.Context, aud token.Audience) (string, error) {
	return c.minter.GetOrMintToken(ctx, aud)
}

// Whoami asks the server to verify an http token and echo the identity.
func (c *Client) Whoami(ctx context.Context) (*WhoamiResponse, error) {
	bearer, err := c.Token(ctx, token.AudienceHTTP)
	if err != nil {
		return nil, err
	}
	var who WhoamiResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/whoami", bearer, nil, &who); err != nil {
		return nil, err
	}
	return &who, nil
}

// Passkeys lists the logged-in user's credentials.
func (c *Client) Passkeys(ctx context.Context) ([]Passkey, error) {
	bearer, err := c.Token(ctx, token.AudienceHTTP)
	if err != nil {
		return nil, err
	}
	var resp passkeysResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/passkeys", bearer, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Passkeys, nil
}

// Listen streams server events until the context is cancelled, calling
// onEvent for each one.
func (c *Client) Listen(ctx context.Context, onEvent func(event, data string)) error {
	bearer, err := c.Token(ctx, token.AudienceSSE)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if eventType != "" {
				onEvent(eventType, strings.Join(dataLines, "\n"))
			}
			eventType = ""
			dataLines = nil
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// WSConn is an open duplex session.
type WSConn struct {
	conn *websocket.Conn
}

// DialWS opens the ws channel with a freshly minted ws token.
func (c *Client) DialWS(ctx context.Context) (*WSConn, error) {
	bearer, err := c.Token(ctx, token.AudienceWS)
	if err != nil {
		return nil, err
	}

	wsURL := strings.Replace(c.baseURL(), "http", "ws", 1) + "/api/ws?token=" + bearer
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing ws channel: %w", err)
	}
	return &WSConn{conn: conn}, nil
}

// Echo sends one text message and waits for the reply.
func (w *WSConn) Echo(ctx context.Context, text string) (string, error) {
	if err := w.conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return "", err
	}
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close performs the close handshake.
func (w *WSConn) Close(_ context.Context) error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) baseURL() string {
	return strings.TrimSuffix(c.cfg.Server.URL, "/")
}

// doJSON performs a JSON request/response round trip.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFromResponse extracts an error message from a non-2xx response.
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
