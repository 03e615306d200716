package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/arbiter/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newClockedLRU(size int) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(size)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		cache := NewLRUCache(100)
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		cache := NewLRUCache(100)
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		cache := NewLRUCache(100)
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		cache, clock := newClockedLRU(10)
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Second)

		if val, _ := cache.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		clock.advance(11 * time.Second)
		if val, _ := cache.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := cache.Stats(); size != 0 {
			t.Errorf("expected expired entry to be dropped, size %d", size)
		}
	})

	t.Run("ZeroTTLNeverExpires", func(t *testing.T) {
		cache, clock := newClockedLRU(10)
		_ = cache.Set(ctx, "forever", []byte("x"), 0)
		clock.advance(24 * time.Hour)
		if val, _ := cache.Get(ctx, "forever"); val == nil {
			t.Error("expected entry without TTL to survive")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the oldest
		_, _ = smallCache.Get(ctx, "a")

		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("ResultRoundTrip", func(t *testing.T) {
		cache := NewLRUCache(10)
		result := &domain.EvaluationResult{
			Matched: false,
			Log:     []string{`Evaluating rule: "R"`, `FAILURE: Not all conditions met for rule "R".`},
			Failure: domain.FailureConditionNotMet,
		}
		if err := cache.SetResult(ctx, "k", result, time.Minute); err != nil {
			t.Fatalf("SetResult failed: %v", err)
		}

		got, err := cache.GetResult(ctx, "k")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got == nil || got.Matched || len(got.Log) != 2 || got.Failure != domain.FailureConditionNotMet {
			t.Errorf("unexpected cached result: %+v", got)
		}

		if miss, err := cache.GetResult(ctx, "other"); err != nil || miss != nil {
			t.Errorf("expected nil, nil on miss, got %v, %v", miss, err)
		}
	})

	t.Run("CorruptResult", func(t *testing.T) {
		cache := NewLRUCache(10)
		_ = cache.Set(ctx, "result:bad", []byte("{"), time.Minute)
		if _, err := cache.GetResult(ctx, "bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("StatsAndHitRatio", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}

		_, _ = statsCache.Get(ctx, "k1")
		_, _ = statsCache.Get(ctx, "missing")
		if ratio := statsCache.HitRatio(); ratio != 0.5 {
			t.Errorf("expected hit ratio 0.5, got %v", ratio)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()

	t.Run("FillsL1FromL2", func(t *testing.T) {
		local, remote := NewLRUCache(10), NewLRUCache(10)
		tiered := NewTiered(local, remote, time.Minute)

		_ = remote.Set(ctx, "k", []byte("v"), time.Hour)

		val, err := tiered.Get(ctx, "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("Get = %q, %v", val, err)
		}
		if l1, _ := local.Get(ctx, "k"); string(l1) != "v" {
			t.Error("expected L1 to be populated after L2 hit")
		}
	})

	t.Run("WritesBothTiers", func(t *testing.T) {
		local, remote := NewLRUCache(10), NewLRUCache(10)
		tiered := NewTiered(local, remote, time.Minute)

		result := &domain.EvaluationResult{Matched: true, Log: []string{"ok"}}
		if err := tiered.SetResult(ctx, "r", result, time.Hour); err != nil {
			t.Fatalf("SetResult failed: %v", err)
		}
		for name, c := range map[string]*LRUCache{"local": local, "remote": remote} {
			got, err := c.GetResult(ctx, "r")
			if err != nil || got == nil || !got.Matched {
				t.Errorf("%s tier missing result: %v, %v", name, got, err)
			}
		}

		if err := tiered.Delete(ctx, "result:r"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if got, _ := tiered.GetResult(ctx, "r"); got != nil {
			t.Error("expected delete to clear both tiers")
		}
	})

	t.Run("CapsLocalTTL", func(t *testing.T) {
		tiered := NewTiered(NewLRUCache(1), NewLRUCache(1), time.Minute)
		if got := tiered.localTTL(time.Hour); got != time.Minute {
			t.Errorf("localTTL(1h) = %v, want 1m", got)
		}
		if got := tiered.localTTL(time.Second); got != time.Second {
			t.Errorf("localTTL(1s) = %v, want 1s", got)
		}
		if got := tiered.localTTL(0); got != time.Minute {
			t.Errorf("localTTL(0) = %v, want 1m", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		tiered := NewTiered(NewLRUCache(1), NewLRUCache(1), 0)
		if err := tiered.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if cache != nil {
			t.Error("expected nil cache for none type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
