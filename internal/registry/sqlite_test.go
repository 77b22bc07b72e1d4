// ABOUTME: Tests for the SQLite credential registry
// ABOUTME: Covers duplicate devices, revocation invariants, and lookup freshness

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	reg, err := NewSQLiteRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func addPasskey(t *testing.T, reg *SQLiteRegistry, id, userID string) {
	t.Helper()
	err := reg.Add(context.Background(), &PasskeyRecord{
		ID:        id,
		UserID:    userID,
		PublicKey: []byte("spki-" + id),
		Label:     "test key",
	})
	require.NoError(t, err)
}

func TestRegistry_AddAndLookup(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	addPasskey(t, reg, "device-1", "user-alice")

	key, err := reg.Lookup(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("spki-device-1"), key)

	_, err = reg.Lookup(ctx, "device-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_AddDuplicateDevice(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	addPasskey(t, reg, "device-1", "user-alice")

	// Same device, same user: idempotent.
	err := reg.Add(ctx, &PasskeyRecord{ID: "device-1", UserID: "user-alice", PublicKey: []byte("spki-device-1")})
	assert.NoError(t, err)

	// Same device, different user: conflict.
	err = reg.Add(ctx, &PasskeyRecord{ID: "device-1", UserID: "user-bob", PublicKey: []byte("spki-device-1")})
	assert.ErrorIs(t, err, ErrDuplicateDevice)
}

func TestRegistry_RevokeLastPasskey(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	addPasskey(t, reg, "device-1", "user-alice")

	err := reg.Revoke(ctx, "device-1")
	assert.ErrorIs(t, err, ErrLastPasskey)

	// The sole credential must remain active.
	_, err = reg.Lookup(ctx, "device-1")
	assert.NoError(t, err)
}

func TestRegistry_RevokeWithSpare(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	addPasskey(t, reg, "device-1", "user-alice")
	addPasskey(t, reg, "device-2", "user-alice")

	require.NoError(t, reg.Revoke(ctx, "device-1"))

	// The revoke is visible to the very next lookup.
	_, err := reg.Lookup(ctx, "device-1")
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := reg.List(ctx, "user-alice")
	require.NoError(t, err)
	require.Len(t, records, 2)

	var active, revoked int
	for _, rec := range records {
		if rec.Revoked() {
			revoked++
		} else {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, revoked)

	// Revoking again is a no-op, not an error.
	assert.NoError(t, reg.Revoke(ctx, "device-1"))

	// The remaining credential is now the last one.
	assert.ErrorIs(t, reg.Revoke(ctx, "device-2"), ErrLastPasskey)
}

func TestRegistry_RevokeUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Revoke(context.Background(), "device-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_RevokedUserDoesNotBlockOthers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	addPasskey(t, reg, "device-1", "user-alice")
	addPasskey(t, reg, "device-2", "user-bob")

	// Bob's only key is unaffected by Alice's count.
	assert.ErrorIs(t, reg.Revoke(ctx, "device-2"), ErrLastPasskey)
}

func TestRegistry_TouchLastUsed(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	addPasskey(t, reg, "device-1", "user-alice")

	records, err := reg.List(ctx, "user-alice")
	require.NoError(t, err)
	require.Nil(t, records[0].LastUsedAt)

	require.NoError(t, reg.TouchLastUsed(ctx, "device-1"))

	records, err = reg.List(ctx, "user-alice")
	require.NoError(t, err)
	require.NotNil(t, records[0].LastUsedAt)
}

func TestRegistry_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/registry.db"
	ctx := context.Background()

	reg, err := NewSQLiteRegistry(path)
	require.NoError(t, err)
	addPasskey(t, reg, "device-1", "user-alice")
	require.NoError(t, reg.Close())

	reopened, err := NewSQLiteRegistry(path)
	require.NoError(t, err)
	defer reopened.Close()

	key, err := reopened.Lookup(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("spki-device-1"), key)
}
