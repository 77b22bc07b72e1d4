// Package device implements the client half of the device auth protocol.
//
// A device owns exactly one durable P-256 key pair (KeyStore), a
// session-scoped binding of that key to an authenticated user
// (IdentityManager), and a per-audience cache of short-lived signed tokens
// (Minter). The three are constructed explicitly at application start and
// passed down; there is no package-level singleton, which keeps tests
// isolated to their own state directories.
//
// Lifecycle rules:
//
//   - Key material is created once, on first use, and survives logout.
//   - The identity binding exists only between login and logout.
//   - Tokens are ephemeral capability proofs, never persisted.
package device
