// ABOUTME: Session-scoped binding between the device key and an authenticated user
// ABOUTME: Logout clears the binding; the key material underneath survives

package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/keygate/internal/token"
)

// Identity is the active binding of this device's key to a user session.
type Identity struct {
	DeviceID string
	UserID   string
}

// IdentityManager tracks whether the device key is currently bound to an
// authenticated user. The device ID is derived from the public key, so it
// is identical across logout/login cycles on the same device.
type IdentityManager struct {
	keys   *KeyStore
	logger *slog.Logger

	mu      sync.RWMutex
	current *Identity
}

// NewIdentityManager creates an identity manager over the given key store.
func NewIdentityManager(keys *KeyStore) *IdentityManager {
	return &IdentityManager{
		keys:   keys,
		logger: slog.Default().With("component", "identity"),
	}
}

// BindIdentity records userID as the authenticated owner of this device's
// key. Called after a successful enrollment or login ceremony. Ensures key
// material exists so the first login on a fresh device also creates the key.
func (m *IdentityManager) BindIdentity(ctx context.Context, userID string) (*Identity, error) {
	if err := m.keys.EnsureKeyMaterial(ctx); err != nil {
		return nil, fmt.Errorf("ensuring key material: %w", err)
	}
	pub, err := m.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	ident := &Identity{
		DeviceID: token.DeviceID(pub),
		UserID:   userID,
	}

	m.mu.Lock()
	m.current = ident
	m.mu.Unlock()

	m.logger.Debug("identity bound", "user_id", userID, "device_id", ident.DeviceID)
	return ident, nil
}

// ClearIdentity removes the binding. The key store is untouched: the same
// device key signs again after the next login.
func (m *IdentityManager) ClearIdentity() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	m.logger.Debug("identity cleared")
}

// DeviceIdentity returns the active binding, or nil when no session exists.
func (m *IdentityManager) DeviceIdentity() *Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}
