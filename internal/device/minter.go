// ABOUTME: Mints and caches short-lived audience-bound device tokens
// ABOUTME: One cached token per channel, single-flight on concurrent misses

package device

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/2389/keygate/internal/token"
)

// ErrNotAuthenticated is returned when minting is attempted without an
// active identity binding.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrUnknownAudience is returned for audiences outside the closed channel set.
var ErrUnknownAudience = errors.New("unknown audience")

// MinterConfig controls token lifetime and audience namespacing.
type MinterConfig struct {
	// TTL is how long minted tokens live.
	TTL time.Duration
	// Skew is the safety margin before exp at which a cached token is
	// considered stale and re-minted.
	Skew time.Duration
	// Namespace prefixes every aud claim.
	Namespace string
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Minter produces signed device tokens, one per audience, and caches them
// until they approach expiry. Invalidation is explicit: callers clear a
// cached token when the server rejects it, never on a background timer.
type Minter struct {
	identity *IdentityManager
	keys     *KeyStore
	cfg      MinterConfig
	logger   *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	cache map[token.Audience]cachedToken
}

// NewMinter creates a minter over the identity manager and its key store.
func NewMinter(identity *IdentityManager, keys *KeyStore, cfg MinterConfig) *Minter {
	if cfg.Namespace == "" {
		cfg.Namespace = token.DefaultNamespace
	}
	return &Minter{
		identity: identity,
		keys:     keys,
		cfg:      cfg,
		logger:   slog.Default().With("component", "minter"),
		cache:    make(map[token.Audience]cachedToken),
	}
}

// GetOrMintToken returns a valid token for the audience, reusing the cached
// one when it has more than the skew margin left before expiry. Concurrent
// misses for the same audience converge on a single signing operation.
func (m *Minter) GetOrMintToken(ctx context.Context, aud token.Audience) (string, error) {
	if !aud.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAudience, aud)
	}

	if cached, ok := m.lookupCached(aud); ok {
		return cached, nil
	}

	value, err, _ := m.group.Do(string(aud), func() (any, error) {
		// Another caller may have minted while we waited on the flight.
		if cached, ok := m.lookupCached(aud); ok {
			return cached, nil
		}
		return m.mint(aud)
	})
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return value.(string), nil
}

// ClearCachedToken invalidates the cached token for one audience.
func (m *Minter) ClearCachedToken(aud token.Audience) {
	m.mu.Lock()
	delete(m.cache, aud)
	m.mu.Unlock()
}

// ClearAllCachedTokens invalidates every cached token.
func (m *Minter) ClearAllCachedTokens() {
	m.mu.Lock()
	m.cache = make(map[token.Audience]cachedToken)
	m.mu.Unlock()
}

func (m *Minter) lookupCached(aud token.Audience) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cached, ok := m.cache[aud]
	if !ok {
		return "", false
	}
	if !time.Now().Before(cached.expiresAt.Add(-m.cfg.Skew)) {
		return "", false
	}
	return cached.value, true
}

// mint builds, signs, and caches a fresh token for the audience.
func (m *Minter) mint(aud token.Audience) (string, error) {
	ident := m.identity.DeviceIdentity()
	if ident == nil {
		return "", ErrNotAuthenticated
	}

	handle, err := m.keys.SigningHandle()
	if err != nil {
		return "", err
	}

	now := time.Now()
	expiresAt := now.Add(m.cfg.TTL)
	claims := jwt.MapClaims{
		"sub": ident.UserID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"aud": token.FormatAudience(m.cfg.Namespace, aud),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = ident.DeviceID

	signingInput, err := tok.SigningString()
	if err != nil {
		return "", fmt.Errorf("encoding token: %w", err)
	}
	sig, err := handle.Sign([]byte(signingInput))
	if err != nil {
		return "", err
	}
	signed := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)

	m.mu.Lock()
	m.cache[aud] = cachedToken{value: signed, expiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.Debug("minted token", "aud", aud, "device_id", ident.DeviceID, "exp", expiresAt)
	return signed, nil
}
