package barcode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"safe-bite/src/pkg/kvstore"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func openKV(t *testing.T) *kvstore.Store {
	t.Helper()
	store, e := kvstore.Open(filepath.Join(t.TempDir(), "kv.db"))
	if e != nil {
		t.Fatalf("open kv store: %v", e)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func found(code string) LookupResult {
	return LookupResult{Code: code, Found: true, Product: &Product{Code: code, Name: "Galletas"}}
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(kv, WithClock(c.Now))

	if e := cache.Set(ctx, "7501055300075", found("7501055300075")); e != nil {
		t.Fatalf("Set: %v", e)
	}
	start := c.now

	c.now = start.Add(6*24*time.Hour + 23*time.Hour)
	entry := cache.Get(ctx, "7501055300075")
	if entry == nil {
		t.Fatal("entry missing at T+6d23h")
	}
	if entry.Result.Product == nil || entry.Result.Product.Name != "Galletas" {
		t.Fatalf("unexpected cached product: %+v", entry.Result)
	}

	c.now = start.Add(7*24*time.Hour + time.Hour)
	if got := cache.Get(ctx, "7501055300075"); got != nil {
		t.Fatalf("got %+v at T+7d1h, want nil", got)
	}
	// purged, not just hidden
	c.now = start
	if got := cache.Get(ctx, "7501055300075"); got != nil {
		t.Fatal("expired entry was not deleted")
	}
}

func TestNegativeLookupsNeverCached(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(openKV(t))

	if e := cache.Set(ctx, "4006381333931", LookupResult{Code: "4006381333931", Found: false}); e != nil {
		t.Fatalf("Set: %v", e)
	}
	if got := cache.Get(ctx, "4006381333931"); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestPurgeRemovesExpired(t *testing.T) {
	ctx := context.Background()
	kv := openKV(t)
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCache(kv, WithClock(c.Now))

	_ = cache.Set(ctx, "11111111", found("11111111"))
	c.now = c.now.Add(5 * 24 * time.Hour)
	_ = cache.Set(ctx, "22222222", found("22222222"))
	c.now = c.now.Add(3 * 24 * time.Hour)

	removed, e := cache.Purge(ctx)
	if e != nil {
		t.Fatalf("Purge: %v", e)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if cache.Get(ctx, "22222222") == nil {
		t.Fatal("fresh entry was purged")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"7501055300075", "7501055300075", true},
		{" 750-1055 300075 ", "7501055300075", true},
		{"1234567", "1234567", false},
		{"ABC12345678", "", false},
	}
	for _, c := range cases {
		got, ok := Normalize(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
