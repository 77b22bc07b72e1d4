// ABOUTME: Unit tests for durable key material lifecycle
// ABOUTME: Covers create-once concurrency, persistence across reopen, accessor errors

package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

func TestKeyStore_AccessorsBeforeEnsure(t *testing.T) {
	store := NewKeyStore(t.TempDir())

	if _, err := store.SigningHandle(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SigningHandle() error = %v, want ErrNotInitialized", err)
	}
	if _, err := store.PublicKey(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("PublicKey() error = %v, want ErrNotInitialized", err)
	}
}

func TestKeyStore_EnsureCreatesOnce(t *testing.T) {
	store := NewKeyStore(t.TempDir())
	ctx := context.Background()

	if err := store.EnsureKeyMaterial(ctx); err != nil {
		t.Fatalf("EnsureKeyMaterial() error = %v", err)
	}
	first, err := store.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}

	if err := store.EnsureKeyMaterial(ctx); err != nil {
		t.Fatalf("second EnsureKeyMaterial() error = %v", err)
	}
	second, err := store.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("repeated ensure produced a different key")
	}
}

func TestKeyStore_ConcurrentFirstUse(t *testing.T) {
	store := NewKeyStore(t.TempDir())
	ctx := context.Background()

	const callers = 16
	keys := make([][]byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.EnsureKeyMaterial(ctx); err != nil {
				t.Errorf("EnsureKeyMaterial() error = %v", err)
				return
			}
			pub, err := store.PublicKey()
			if err != nil {
				t.Errorf("PublicKey() error = %v", err)
				return
			}
			keys[i] = pub
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if !bytes.Equal(keys[0], keys[i]) {
			t.Fatalf("caller %d received a different key than caller 0", i)
		}
	}
}

func TestKeyStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := NewKeyStore(dir)
	if err := store.EnsureKeyMaterial(ctx); err != nil {
		t.Fatalf("EnsureKeyMaterial() error = %v", err)
	}
	first, _ := store.PublicKey()
	store.Close()

	reopened := NewKeyStore(dir)
	if err := reopened.EnsureKeyMaterial(ctx); err != nil {
		t.Fatalf("EnsureKeyMaterial() after reopen error = %v", err)
	}
	second, _ := reopened.PublicKey()

	if !bytes.Equal(first, second) {
		t.Error("reopened store loaded a different key")
	}
}

func TestSigningHandle_ProducesJOSESignature(t *testing.T) {
	store := NewKeyStore(t.TempDir())
	if err := store.EnsureKeyMaterial(context.Background()); err != nil {
		t.Fatalf("EnsureKeyMaterial() error = %v", err)
	}

	handle, err := store.SigningHandle()
	if err != nil {
		t.Fatalf("SigningHandle() error = %v", err)
	}
	sig, err := handle.Sign([]byte("header.payload"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(sig) != 64 {
		t.Errorf("Sign() produced %d bytes, want 64 (raw R||S)", len(sig))
	}
}
