// ABOUTME: Unit tests for the session-scoped identity binding
// ABOUTME: Device ID stability across logout/login, key survival after clear

package device

import (
	"context"
	"testing"
)

func TestIdentityManager_NilBeforeBind(t *testing.T) {
	keys := NewKeyStore(t.TempDir())
	manager := NewIdentityManager(keys)

	if got := manager.DeviceIdentity(); got != nil {
		t.Errorf("DeviceIdentity() = %+v, want nil", got)
	}
}

func TestIdentityManager_BindComputesDeviceID(t *testing.T) {
	keys := NewKeyStore(t.TempDir())
	manager := NewIdentityManager(keys)

	ident, err := manager.BindIdentity(context.Background(), "user-alice")
	if err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}
	if ident.UserID != "user-alice" {
		t.Errorf("UserID = %q, want %q", ident.UserID, "user-alice")
	}
	if ident.DeviceID == "" {
		t.Error("DeviceID is empty")
	}
	if got := manager.DeviceIdentity(); got == nil || got.DeviceID != ident.DeviceID {
		t.Errorf("DeviceIdentity() = %+v, want binding with device %s", got, ident.DeviceID)
	}
}

func TestIdentityManager_StableAcrossLogoutLogin(t *testing.T) {
	keys := NewKeyStore(t.TempDir())
	manager := NewIdentityManager(keys)
	ctx := context.Background()

	first, err := manager.BindIdentity(ctx, "user-alice")
	if err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}

	manager.ClearIdentity()
	if got := manager.DeviceIdentity(); got != nil {
		t.Fatalf("DeviceIdentity() after clear = %+v, want nil", got)
	}

	second, err := manager.BindIdentity(ctx, "user-alice")
	if err != nil {
		t.Fatalf("second BindIdentity() error = %v", err)
	}

	if first.DeviceID != second.DeviceID {
		t.Errorf("device ID changed across logout/login: %s vs %s", first.DeviceID, second.DeviceID)
	}
}

func TestIdentityManager_ClearLeavesKeyUsable(t *testing.T) {
	keys := NewKeyStore(t.TempDir())
	manager := NewIdentityManager(keys)

	if _, err := manager.BindIdentity(context.Background(), "user-alice"); err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}
	manager.ClearIdentity()

	// Logout cleared the binding only; the retained key still signs.
	handle, err := keys.SigningHandle()
	if err != nil {
		t.Fatalf("SigningHandle() after clear error = %v", err)
	}
	if _, err := handle.Sign([]byte("still works")); err != nil {
		t.Errorf("Sign() after clear error = %v", err)
	}
}
