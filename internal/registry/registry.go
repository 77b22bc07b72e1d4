// ABOUTME: Registry interface and passkey record types for device credentials
// ABOUTME: Records are revoked in place, never deleted, to preserve the audit trail

package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("passkey not found")

// ErrDuplicateDevice is returned when a device ID is already registered to
// a different user.
var ErrDuplicateDevice = errors.New("device already registered to another user")

// ErrLastPasskey is returned when a revoke would leave the owning user with
// zero active credentials.
var ErrLastPasskey = errors.New("cannot revoke the last active passkey")

// PasskeyRecord is a registered device public key plus metadata. Its ID is
// the device identifier derived from the public key.
type PasskeyRecord struct {
	ID         string
	UserID     string
	PublicKey  []byte // DER-encoded SubjectPublicKeyInfo
	Label      string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the record has been revoked.
func (r *PasskeyRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// Registry defines durable storage for device credentials.
type Registry interface {
	// Add registers a new credential. Re-adding the same device for the
	// same user is an idempotent no-op; the same device under a different
	// user fails with ErrDuplicateDevice.
	Add(ctx context.Context, rec *PasskeyRecord) error

	// Revoke marks a credential revoked. Fails with ErrLastPasskey if the
	// owning user would be left without an active credential, and with
	// ErrNotFound for unknown IDs. Revoking an already-revoked record is
	// a no-op.
	Revoke(ctx context.Context, id string) error

	// List returns all records for a user, active and revoked, oldest first.
	List(ctx context.Context, userID string) ([]*PasskeyRecord, error)

	// Lookup returns the public key for an active credential. Revoked and
	// unknown IDs both return ErrNotFound; a revoke is visible to the very
	// next lookup.
	Lookup(ctx context.Context, kid string) ([]byte, error)

	// TouchLastUsed records that the credential just verified a token.
	TouchLastUsed(ctx context.Context, id string) error

	// Close releases the underlying store.
	Close() error
}
