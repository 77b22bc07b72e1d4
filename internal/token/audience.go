// ABOUTME: Audience channel definitions shared by the device client and the verifier
// ABOUTME: A token's aud claim is "<namespace>:<channel>" and must match exactly

package token

// Audience identifies the transport channel a token is authorized for.
// The set is closed: a token minted for one channel is never valid on another.
type Audience string

const (
	AudienceHTTP Audience = "http"
	AudienceWS   Audience = "ws"
	AudienceSSE  Audience = "sse"
)

// DefaultNamespace is the aud prefix distinguishing keygate tokens from
// unrelated JWTs that might reach the same endpoints.
const DefaultNamespace = "keygate"

// Valid reports whether a is one of the known channels.
func (a Audience) Valid() bool {
	switch a {
	case AudienceHTTP, AudienceWS, AudienceSSE:
		return true
	}
	return false
}

// FormatAudience builds the aud claim value for a channel.
func FormatAudience(namespace string, a Audience) string {
	return namespace + ":" + string(a)
}
