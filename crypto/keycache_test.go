package crypto

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestKeyCacheEvictsLeastRecentlyTouched(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	local, err := NewEntity(Ephemeral(), WithKeyCache(2), WithTimeProvider(clock))
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}

	remotes := make([]string, 3)
	for i := range remotes {
		r, err := NewEntity(Ephemeral())
		if err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
		remotes[i] = r.EncryptionPublicKey()
	}

	derive := func(remote string) {
		t.Helper()
		if _, err := local.deriveKey("chat", remote); err != nil {
			t.Fatalf("deriveKey: %v", err)
		}
		clock.advance(time.Second)
	}

	derive(remotes[0])
	derive(remotes[1])
	// touching remote 0 makes remote 1 the oldest entry
	derive(remotes[0])
	derive(remotes[2])

	if got := local.CachedKeys(); got != 2 {
		t.Fatalf("expected 2 cached keys, got %d", got)
	}
	if !local.cache.contains(remotes[0], "chat") {
		t.Error("recently touched key was evicted")
	}
	if local.cache.contains(remotes[1], "chat") {
		t.Error("least recently touched key was not evicted")
	}
	if !local.cache.contains(remotes[2], "chat") {
		t.Error("newest key missing")
	}

	touched, ok := local.cache.touchedAt(remotes[0], "chat")
	if !ok || !touched.Equal(time.Unix(1700000002, 0)) {
		t.Errorf("unexpected touch time %v (present=%v)", touched, ok)
	}
}

func TestKeyCacheSeparatesUsages(t *testing.T) {
	local, _ := NewEntity(Ephemeral(), WithKeyCache(4))
	remote, _ := NewEntity(Ephemeral())

	for _, usage := range []string{"a", "b", "a"} {
		if _, err := local.deriveKey(usage, remote.EncryptionPublicKey()); err != nil {
			t.Fatalf("deriveKey(%s): %v", usage, err)
		}
	}
	if got := local.CachedKeys(); got != 2 {
		t.Fatalf("expected one entry per usage, got %d", got)
	}
}

func TestKeyCacheDisabled(t *testing.T) {
	local, _ := NewEntity(Ephemeral(), WithKeyCache(0))
	remote, _ := NewEntity(Ephemeral())

	first, err := local.deriveKey("chat", remote.EncryptionPublicKey())
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}
	second, err := local.deriveKey("chat", remote.EncryptionPublicKey())
	if err != nil {
		t.Fatalf("deriveKey: %v", err)
	}

	if local.CachedKeys() != 0 {
		t.Errorf("disabled cache holds %d entries", local.CachedKeys())
	}
	if string(first) != string(second) {
		t.Error("derivation is not deterministic")
	}
}
