package knowledge

import (
	"testing"
	"time"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hola Mundo", "hola mundo"},
		{"  hola   mundo  ", "hola mundo"},
		{"HOLA\tmundo\n", "hola mundo"},
		{"", ""},
		{"   ", ""},
	}

	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCacheGetSetNormalizesKeys(t *testing.T) {
	c := NewCache()
	c.Set("  Precio en  Centro ", []float32{0.1, 0.2})

	got, ok := c.Get("precio en centro")
	if !ok {
		t.Fatal("normalized lookup missed")
	}
	if len(got) != 2 || got[0] != 0.1 || got[1] != 0.2 {
		t.Errorf("vector = %v", got)
	}

	if _, ok := c.Get("precio en norte"); ok {
		t.Error("unexpected hit for different query")
	}
}

func TestCacheIgnoresBlankKeys(t *testing.T) {
	c := NewCache()
	c.Set("   ", []float32{1})
	if stats := c.GetStats(); stats.Size != 0 {
		t.Errorf("size = %d after blank set, want 0", stats.Size)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	c.Set("query", []float32{1})
	if _, ok := c.Get("query"); !ok {
		t.Fatal("fresh entry missed")
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get("query"); ok {
		t.Error("expired entry returned")
	}
	if stats := c.GetStats(); stats.Size != 0 {
		t.Errorf("expired entry not removed, size = %d", stats.Size)
	}
}

func TestCacheSetRefreshesTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache(WithTTL(time.Hour), WithClock(func() time.Time { return now }))

	c.Set("query", []float32{1})
	now = now.Add(45 * time.Minute)
	c.Set("query", []float32{2})
	now = now.Add(45 * time.Minute)

	got, ok := c.Get("query")
	if !ok {
		t.Fatal("refreshed entry expired")
	}
	if got[0] != 2 {
		t.Errorf("vector = %v, want overwrite", got)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(WithMaxEntries(2))

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missed")
	}

	c.Set("c", []float32{3})

	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("new entry missing")
	}
	if stats := c.GetStats(); stats.Size != 2 {
		t.Errorf("size = %d, want 2", stats.Size)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	c := NewCache()
	c.Set("a", []float32{1})

	c.Get("a") // hit
	c.Get("a") // hit
	c.Get("b") // miss

	stats := c.GetStats()
	if stats.Size != 1 {
		t.Errorf("size = %d, want 1", stats.Size)
	}
	if stats.MaxSize != DefaultMaxEntries {
		t.Errorf("maxSize = %d, want %d", stats.MaxSize, DefaultMaxEntries)
	}
	want := 2.0 / 3.0
	if diff := stats.HitRate - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("hitRate = %v, want %v", stats.HitRate, want)
	}

	c.Clear()
	stats = c.GetStats()
	if stats.Size != 0 || stats.HitRate != 0 {
		t.Errorf("after clear: %+v", stats)
	}
}

func TestCacheMetricsHook(t *testing.T) {
	var hits, misses int
	c := NewCache(WithMetricsHook(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))

	c.Set("a", []float32{1})
	c.Get("a")
	c.Get("b")
	c.Get("a")

	if hits != 2 || misses != 1 {
		t.Errorf("hits = %d, misses = %d, want 2 and 1", hits, misses)
	}
}
