package barcode

import (
	"context"
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

const (
	DefaultTTL = 7 * 24 * time.Hour
	keyPrefix  = "barcode:"
)

// KV is the part of the durable key-value store the cache needs.
type KV interface {
	GetJSON(ctx context.Context, key string, target any) (found bool, e *xerr.Error)
	SetJSON(ctx context.Context, key string, value any) (e *xerr.Error)
	Remove(ctx context.Context, key string) (e *xerr.Error)
	Keys(ctx context.Context, prefix string) (keys []string, e *xerr.Error)
}

type CacheEntry struct {
	Result          LookupResult `json:"result"`
	CachedAtEpochMs int64        `json:"cached_at_epoch_ms"`
}

func (c CacheEntry) CachedAt() time.Time {
	return time.UnixMilli(c.CachedAtEpochMs)
}

type Cache struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(kv KV, opts ...CacheOption) *Cache {
	c := &Cache{kv: kv, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(code string) string {
	return keyPrefix + code
}

/*
Get returns the cached entry for code, or nil on a miss.

Entries older than the TTL count as a miss and are deleted on the spot. Store
errors are logged and also count as a miss.
*/
func (c *Cache) Get(ctx context.Context, code string) *CacheEntry {
	var entry CacheEntry
	found, e := c.kv.GetJSON(ctx, cacheKey(code), &entry)
	if e != nil {
		tl.Log(tl.Warning, palette.Purple, "Barcode cache read %s for '%s': '%s'", "failed", code, e)
		return nil
	}
	if !found {
		return nil
	}
	if c.expired(entry) {
		tl.Log(tl.Debug, palette.CyanDim, "Barcode cache entry for '%s' %s, cached at '%s'", code, "expired", entry.CachedAt().UTC().Format(time.RFC3339))
		if e := c.kv.Remove(ctx, cacheKey(code)); e != nil {
			tl.Log(tl.Warning, palette.Purple, "Removing expired barcode entry %s: '%s'", "failed", e)
		}
		return nil
	}
	return &entry
}

func (c *Cache) expired(entry CacheEntry) bool {
	return c.now().Sub(entry.CachedAt()) > c.ttl
}

// Set stores result only when it is a positive hit.
func (c *Cache) Set(ctx context.Context, code string, result LookupResult) (e *xerr.Error) {
	if !result.Found {
		tl.Log(tl.Debug, palette.CyanDim, "Not caching %s for '%s'", "negative lookup", code)
		return nil
	}
	entry := CacheEntry{Result: result, CachedAtEpochMs: c.now().UnixMilli()}
	return c.kv.SetJSON(ctx, cacheKey(code), entry)
}

// Purge deletes every expired entry and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (removed int, e *xerr.Error) {
	keys, e := c.kv.Keys(ctx, keyPrefix)
	if e != nil {
		return 0, e
	}
	for _, key := range keys {
		if c.Get(ctx, strings.TrimPrefix(key, keyPrefix)) == nil {
			removed++
		}
	}
	if removed > 0 {
		tl.Log(tl.Info1, palette.Green, "Purged %v %s", removed, "barcode cache entries")
	}
	return removed, nil
}
