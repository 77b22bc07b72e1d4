// ABOUTME: Unit tests for token minting and the per-audience cache
// ABOUTME: Covers caching, explicit invalidation, expiry, and concurrent misses

package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2389/keygate/internal/token"
)

func newTestMinter(t *testing.T, cfg MinterConfig) (*Minter, *IdentityManager) {
	t.Helper()
	keys := NewKeyStore(t.TempDir())
	identity := NewIdentityManager(keys)
	return NewMinter(identity, keys, cfg), identity
}

func TestMinter_RequiresIdentity(t *testing.T) {
	minter, _ := newTestMinter(t, MinterConfig{TTL: 15 * time.Minute, Skew: 30 * time.Second})

	_, err := minter.GetOrMintToken(context.Background(), token.AudienceHTTP)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("GetOrMintToken() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestMinter_RejectsUnknownAudience(t *testing.T) {
	minter, identity := newTestMinter(t, MinterConfig{TTL: 15 * time.Minute, Skew: 30 * time.Second})
	if _, err := identity.BindIdentity(context.Background(), "user-1"); err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}

	_, err := minter.GetOrMintToken(context.Background(), token.Audience("grpc"))
	if !errors.Is(err, ErrUnknownAudience) {
		t.Errorf("GetOrMintToken(grpc) error = %v, want ErrUnknownAudience", err)
	}
}

func TestMinter_CachesPerAudience(t *testing.T) {
	minter, identity := newTestMinter(t, MinterConfig{TTL: 15 * time.Minute, Skew: 30 * time.Second})
	ctx := context.Background()
	if _, err := identity.BindIdentity(ctx, "user-1"); err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}

	httpFirst, err := minter.GetOrMintToken(ctx, token.AudienceHTTP)
	if err != nil {
		t.Fatalf("GetOrMintToken(http) error = %v", err)
	}
	httpSecond, err := minter.GetOrMintToken(ctx, token.AudienceHTTP)
	if err != nil {
		t.Fatalf("second GetOrMintToken(http) error = %v", err)
	}
	if httpFirst != httpSecond {
		t.Error("cached token was not reused within its lifetime")
	}

	wsToken, err := minter.GetOrMintToken(ctx, token.AudienceWS)
	if err != nil {
		t.Fatalf("GetOrMintToken(ws) error = %v", err)
	}
	if wsToken == httpFirst {
		t.Error("distinct audiences shared one token")
	}

	if parts := strings.Split(httpFirst, "."); len(parts) != 3 {
		t.Errorf("token has %d segments, want 3", len(parts))
	}
}

func TestMinter_ClearForcesRemint(t *testing.T) {
	minter, identity := newTestMinter(t, MinterConfig{TTL: 15 * time.Minute, Skew: 30 * time.Second})
	ctx := context.Background()
	if _, err := identity.BindIdentity(ctx, "user-1"); err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}

	first, err := minter.GetOrMintToken(ctx, token.AudienceSSE)
	if err != nil {
		t.Fatalf("GetOrMintToken() error = %v", err)
	}

	// Mint timestamps have second resolution; step past them so the fresh
	// token cannot collide with the first.
	time.Sleep(1100 * time.Millisecond)

	minter.ClearCachedToken(token.AudienceSSE)
	second, err := minter.GetOrMintToken(ctx, token.AudienceSSE)
	if err != nil {
		t.Fatalf("GetOrMintToken() after clear error = %v", err)
	}
	if first == second {
		t.Error("cleared token was returned again")
	}
}

func TestMinter_SkewMarginExpiresCache(t *testing.T) {
	// TTL shorter than skew: every cached token is immediately stale.
	minter, identity := newTestMinter(t, MinterConfig{TTL: time.Second, Skew: 2 * time.Second})
	ctx := context.Background()
	if _, err := identity.BindIdentity(ctx, "user-1"); err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}

	if _, err := minter.GetOrMintToken(ctx, token.AudienceHTTP); err != nil {
		t.Fatalf("GetOrMintToken() error = %v", err)
	}
	if _, ok := minter.lookupCached(token.AudienceHTTP); ok {
		t.Error("token inside the skew margin was served from cache")
	}
}

func TestMinter_ConcurrentMissesConverge(t *testing.T) {
	minter, identity := newTestMinter(t, MinterConfig{TTL: 15 * time.Minute, Skew: 30 * time.Second})
	ctx := context.Background()
	if _, err := identity.BindIdentity(ctx, "user-1"); err != nil {
		t.Fatalf("BindIdentity() error = %v", err)
	}

	const callers = 16
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := minter.GetOrMintToken(ctx, token.AudienceHTTP)
			if err != nil {
				t.Errorf("GetOrMintToken() error = %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d received a different token than caller 0", i)
		}
	}
}
