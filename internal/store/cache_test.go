package store

import (
	"testing"
	"time"

	"github.com/lenslate/lenslate/pkg/types"
)

func unit(source, translated string) types.TranslationUnit {
	return types.TranslationUnit{
		Source:     source,
		SourceLang: "ja",
		TargetLang: "en",
		Translated: translated,
		Confidence: 0.9,
		Provenance: types.ProvenanceEngine,
	}
}

func TestCache_HitReturnsCopyWithCacheProvenance(t *testing.T) {
	c := NewCache(4, time.Minute)
	c.Put(unit("こんにちは", "hello"))

	got, ok := c.Get("こんにちは", "ja", "en")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Translated != "hello" {
		t.Errorf("Translated = %q, want %q", got.Translated, "hello")
	}
	if got.Provenance != types.ProvenanceCache {
		t.Errorf("Provenance = %q, want %q", got.Provenance, types.ProvenanceCache)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	c := NewCache(4, time.Minute)
	if _, ok := c.Get("nope", "ja", "en"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestCache_EvictsExactlyLeastRecentlyUsed(t *testing.T) {
	c := NewCache(3, time.Minute)
	c.Put(unit("a", "A"))
	c.Put(unit("b", "B"))
	c.Put(unit("c", "C"))

	// Touch "a" so "b" becomes the LRU entry.
	if _, ok := c.Get("a", "ja", "en"); !ok {
		t.Fatal("expected hit on a")
	}

	// Inserting a 4th entry into a capacity-3 cache evicts exactly "b".
	c.Put(unit("d", "D"))

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Get("b", "ja", "en"); ok {
		t.Error("b should have been evicted as LRU")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key, "ja", "en"); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestCache_ExpiredEntryNeverReturned(t *testing.T) {
	c := NewCache(4, 50*time.Millisecond)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put(unit("a", "A"))

	// Still fresh.
	if _, ok := c.Get("a", "ja", "en"); !ok {
		t.Fatal("expected hit before TTL expiry")
	}

	// Advance past the TTL.
	c.now = func() time.Time { return now.Add(51 * time.Millisecond) }
	if _, ok := c.Get("a", "ja", "en"); ok {
		t.Fatal("expired entry must not be returned")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after expiry reap", c.Len())
	}
}

func TestCache_PutSameKeyUpdates(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Put(unit("a", "A"))
	c.Put(unit("a", "A2"))

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	got, _ := c.Get("a", "ja", "en")
	if got.Translated != "A2" {
		t.Errorf("Translated = %q, want %q", got.Translated, "A2")
	}
}

func TestCache_Stats(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Put(unit("a", "A"))
	c.Get("a", "ja", "en")
	c.Get("missing", "ja", "en")

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats = (%d, %d), want (1, 1)", hits, misses)
	}
}
