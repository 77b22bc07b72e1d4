// Package registry is the server-side source of truth for device
// credentials: which public key belongs to which device, which user owns
// it, and whether it has been revoked. Revocation is a soft state change;
// records are kept forever for audit. The one structural invariant the
// registry enforces is that a revoke can never leave a user with zero
// active credentials.
package registry
