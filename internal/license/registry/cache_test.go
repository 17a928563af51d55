package registry

import (
	"path/filepath"
	"testing"
	"time"

	"promptshield/internal/auditlog"
)

func newTestCache(t *testing.T, ttl time.Duration) ValidateCache {
	t.Helper()
	log := auditlog.New("registry_cache_test", auditlog.ParseFormat("text"), "error")
	path := filepath.Join(t.TempDir(), "validate-cache.db")
	c, err := NewBboltCache(path, ttl, log)
	if err != nil {
		t.Fatalf("NewBboltCache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBboltValidateCache_SetThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("sub-1", "fp-1", true)
	active, ok := c.Get("sub-1", "fp-1")
	if !ok || !active {
		t.Fatalf("Get = %v, %v; want true, true", active, ok)
	}
}

func TestBboltValidateCache_MissingKeyMisses(t *testing.T) {
	c := newTestCache(t, time.Minute)
	if _, ok := c.Get("sub-x", "fp-x"); ok {
		t.Error("expected miss for unseen key")
	}
}

func TestBboltValidateCache_ExpiredEntryMisses(t *testing.T) {
	c := newTestCache(t, 10*time.Millisecond)
	c.Set("sub-2", "fp-2", true)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("sub-2", "fp-2"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestBboltValidateCache_InvalidateRemovesEntry(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("sub-3", "fp-3", true)
	c.Invalidate("sub-3", "fp-3")
	if _, ok := c.Get("sub-3", "fp-3"); ok {
		t.Error("expected invalidated entry to miss")
	}
}

func TestBboltValidateCache_KeysAreScopedToSubscriptionAndFingerprint(t *testing.T) {
	c := newTestCache(t, time.Minute)
	c.Set("sub-4", "fp-4", true)
	if _, ok := c.Get("sub-4", "fp-other"); ok {
		t.Error("expected no cross-fingerprint leakage")
	}
	if _, ok := c.Get("sub-other", "fp-4"); ok {
		t.Error("expected no cross-subscription leakage")
	}
}
