// Package channel verifies device-signed tokens at the server boundary.
//
// One verification core runs seven ordered checks (structure, decoding,
// key resolution, signature, aud presence, aud match, time window) and
// three thin adapters bind it to the transports: bearer-header middleware
// for http and sse, and a handshake-time check for WebSocket upgrades.
//
// Failures collapse to a single opaque rejection per transport. The
// internal reason is logged at debug level and never written to the wire,
// so error granularity cannot be used as a verification oracle.
package channel
