// ABOUTME: Enrollment-boundary public key parsing
// ABOUTME: Accepts PEM SPKI or OpenSSH authorized-keys form, normalizes to DER

package gateway

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrUnsupportedKey is returned for keys that are neither P-256 PEM nor a
// parseable OpenSSH ECDSA key.
var ErrUnsupportedKey = errors.New("unsupported public key")

// ParsePublicKey normalizes an enrollment public key to DER SPKI. It
// accepts a PEM "PUBLIC KEY" block or a single OpenSSH authorized-keys
// line (ecdsa-sha2-nistp256). Only P-256 keys are accepted; the signing
// algorithm is fixed at enrollment time.
func ParsePublicKey(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedKey)
	}

	if strings.HasPrefix(input, "-----BEGIN") {
		return parsePEMKey(input)
	}
	return parseOpenSSHKey(input)
}

func parsePEMKey(input string) ([]byte, error) {
	block, _ := pem.Decode([]byte(input))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: no PUBLIC KEY block", ErrUnsupportedKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	return marshalP256(parsed)
}

func parseOpenSSHKey(input string) ([]byte, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	cryptoKey, ok := pubkey.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: ssh key type %s", ErrUnsupportedKey, pubkey.Type())
	}
	return marshalP256(cryptoKey.CryptoPublicKey())
}

func marshalP256(key any) ([]byte, error) {
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T", ErrUnsupportedKey, key)
	}
	if ecKey.Curve.Params().Name != "P-256" {
		return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, ecKey.Curve.Params().Name)
	}
	return x509.MarshalPKIXPublicKey(ecKey)
}
