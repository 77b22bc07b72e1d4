// ABOUTME: Shared verification core for device-signed channel tokens
// ABOUTME: Seven ordered checks, short-circuiting on the first failure

package channel

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/keygate/internal/registry"
	"github.com/2389/keygate/internal/token"
)

// Verification errors. These are internal classifications for logging; no
// adapter ever writes them to the wire.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrUnknownKey       = errors.New("unknown key")
	ErrBadSignature     = errors.New("bad signature")
	ErrMissingAudience  = errors.New("missing aud claim")
	ErrAudienceMismatch = errors.New("audience mismatch")
	ErrExpired          = errors.New("token expired")
)

// Claims is the verified identity extracted from a token.
type Claims struct {
	Subject   string
	DeviceID  string
	ExpiresAt time.Time
}

// KeyLookup resolves a kid to an active device public key. Implemented by
// the registry; revoked and unknown keys return registry.ErrNotFound.
type KeyLookup interface {
	Lookup(ctx context.Context, kid string) ([]byte, error)
}

// Verifier validates device-signed tokens against the registry. A Verifier
// holds no mutable state and is safe for unbounded concurrent use.
type Verifier struct {
	keys      KeyLookup
	namespace string
	skew      time.Duration
}

// NewVerifier creates a verifier. The namespace must match the minter's;
// skew is the clock tolerance applied to iat.
func NewVerifier(keys KeyLookup, namespace string, skew time.Duration) *Verifier {
	if namespace == "" {
		namespace = token.DefaultNamespace
	}
	return &Verifier{keys: keys, namespace: namespace, skew: skew}
}

// Verify runs the full check sequence against tokenString and returns the
// claims on success. Checks run in a fixed order and stop at the first
// failure: segment structure, decoding, key resolution, signature, aud
// presence, aud match, time window.
func (v *Verifier) Verify(ctx context.Context, tokenString string, expected token.Audience) (*Claims, error) {
	if len(strings.Split(tokenString, ".")) != 3 {
		return nil, ErrMalformed
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	parsed, err := parser.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrBadSignature, t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: no kid header", ErrUnknownKey)
		}
		der, err := v.keys.Lookup(ctx, kid)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
			}
			return nil, err
		}
		pub, err := parsePublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
		}
		return pub, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformed
	}

	aud, ok := claims["aud"].(string)
	if !ok || aud == "" {
		return nil, ErrMissingAudience
	}
	if aud != token.FormatAudience(v.namespace, expected) {
		return nil, fmt.Errorf("%w: token is for %q", ErrAudienceMismatch, aud)
	}

	now := time.Now()
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || now.After(exp.Time) {
		return nil, ErrExpired
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, ErrExpired
	}
	if iat != nil && now.Before(iat.Time.Add(-v.skew)) {
		return nil, ErrExpired
	}

	sub, _ := claims["sub"].(string)
	kid, _ := parsed.Header["kid"].(string)
	return &Claims{Subject: sub, DeviceID: kid, ExpiresAt: exp.Time}, nil
}

// classifyParseError maps golang-jwt parse failures onto the internal
// taxonomy, preserving the check ordering.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey), errors.Is(err, ErrBadSignature):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}

func parsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("registered key has unexpected type %T", parsed)
	}
	return pub, nil
}
