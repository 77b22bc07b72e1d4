// Package token holds the wire-level vocabulary shared by both halves of
// the device auth protocol: the closed audience channel set, the aud
// namespace, and the device identifier derivation.
package token
