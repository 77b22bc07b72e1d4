// ABOUTME: Deterministic device identifier derivation from a public key
// ABOUTME: Shared by the client identity manager and the server enrollment API

package token

import (
	"crypto/sha256"
	"encoding/hex"
)

// deviceIDTag is hashed ahead of the key bytes so identifiers from other
// schemes (or future key types) can never collide with this one.
const deviceIDTag = "keygate-p256-v1:"

// DeviceID computes the stable identifier for a device public key.
// The input is the DER-encoded SubjectPublicKeyInfo; the result is the
// lowercase hex SHA-256 of the tagged encoding, stable for the key's lifetime.
func DeviceID(publicKeyDER []byte) string {
	h := sha256.New()
	h.Write([]byte(deviceIDTag))
	h.Write(publicKeyDER)
	return hex.EncodeToString(h.Sum(nil))
}
