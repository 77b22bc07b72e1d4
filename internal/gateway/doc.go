// ABOUTME: Package doc for the gateway orchestrator
// ABOUTME: Describes the server surface and its three protected channels

// Package gateway assembles the keygate server: the credential registry,
// the shared token verification core, and an HTTP server exposing the
// enrollment API plus protected endpoints on the http, ws, and sse
// channels.
//
// All protected endpoints reject with the same opaque 401 body regardless
// of the failure reason. Enrollment of a brand-new user is the only
// unauthenticated operation; adding a credential to an existing user
// requires an http-channel token for that user.
//
// The server listens on plain TCP by default, or joins a tailnet as a
// tsnet node when tailscale is enabled in the config.
package gateway
