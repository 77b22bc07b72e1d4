// ABOUTME: Durable device key material stored as PKCS#8 on disk
// ABOUTME: Exposes an opaque signing handle; private bytes never leave this package

package device

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNotInitialized is returned by accessors called before any
// EnsureKeyMaterial has completed on this device.
var ErrNotInitialized = errors.New("key material not initialized")

const keyFileName = "device_key.pem"

// KeyStore owns the device's one asymmetric key pair. The key is generated
// on first use, persisted under the state directory, and never rotated.
// The private half is only reachable through the SigningHandle.
type KeyStore struct {
	dir    string
	logger *slog.Logger

	group singleflight.Group

	mu  sync.RWMutex
	key *ecdsa.PrivateKey
}

// NewKeyStore creates a key store rooted at dir. No key is generated or
// loaded until EnsureKeyMaterial is called.
func NewKeyStore(dir string) *KeyStore {
	return &KeyStore{
		dir:    dir,
		logger: slog.Default().With("component", "keystore"),
	}
}

// EnsureKeyMaterial loads the device key, generating and persisting one if
// none exists yet. Concurrent first calls converge on a single generation;
// every caller receives the same key material.
func (s *KeyStore) EnsureKeyMaterial(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.key != nil
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := s.group.Do("ensure", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.key != nil {
			return nil, nil
		}

		key, err := s.loadKey()
		if err == nil {
			s.key = key
			s.logger.Debug("loaded existing device key", "dir", s.dir)
			return nil, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading device key: %w", err)
		}

		key, err = s.generateKey()
		if err != nil {
			return nil, err
		}
		s.key = key
		s.logger.Info("generated new device key", "dir", s.dir)
		return nil, nil
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

// SigningHandle returns the opaque handle for the private key. The handle
// can only produce signatures; it never exposes key bytes.
func (s *KeyStore) SigningHandle() (*SigningHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrNotInitialized
	}
	return &SigningHandle{key: s.key}, nil
}

// PublicKey returns the DER-encoded SubjectPublicKeyInfo for the device key.
func (s *KeyStore) PublicKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrNotInitialized
	}
	return x509.MarshalPKIXPublicKey(&s.key.PublicKey)
}

// PublicKeyPEM returns the public key as a PEM-encoded PUBLIC KEY block,
// the form the enrollment boundary accepts.
func (s *KeyStore) PublicKeyPEM() ([]byte, error) {
	der, err := s.PublicKey()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Close drops the in-memory key reference. The on-disk key material is
// untouched; a subsequent EnsureKeyMaterial reloads the same key.
func (s *KeyStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = nil
}

func (s *KeyStore) keyPath() string {
	return filepath.Join(s.dir, keyFileName)
}

// loadKey reads and parses the persisted private key.
func (s *KeyStore) loadKey() (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(s.keyPath())
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("no PRIVATE KEY block in %s", s.keyPath())
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing device key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("device key has unexpected type %T", parsed)
	}
	return key, nil
}

// generateKey creates a fresh P-256 key and persists it durably before
// returning. The write goes through a temp file and rename; the key path
// either holds a complete key or nothing.
func (s *KeyStore) generateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding device key: %w", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	tmp := s.keyPath() + ".tmp"
	if err := os.WriteFile(tmp, pemData, 0600); err != nil {
		return nil, fmt.Errorf("writing device key: %w", err)
	}
	if err := os.Rename(tmp, s.keyPath()); err != nil {
		return nil, fmt.Errorf("persisting device key: %w", err)
	}
	return key, nil
}

// SigningHandle produces ES256 signatures over arbitrary byte buffers.
// It is the only way the private key is ever used.
type SigningHandle struct {
	key *ecdsa.PrivateKey
}

// Sign returns the JOSE-format (raw R||S) ES256 signature over data.
func (h *SigningHandle) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	r, sv, err := ecdsa.Sign(rand.Reader, h.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])
	return sig, nil
}
