// Package cache is the process-wide response cache. Lookups that hit
// Discord or MongoDB go through Coalesce so concurrent callers for the same
// key share one upstream call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Tier is an optional shared second level behind the in-memory map.
// Values cross it as JSON.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL map with in-flight request coalescing.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	tier    Tier
	now     func() time.Time
	log     *slog.Logger

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// Option configures a Cache.
type Option func(*Cache)

// WithTier adds a second-level store consulted on memory misses.
func WithTier(t Tier) Option { return func(c *Cache) { c.tier = t } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithLogger sets the logger used for tier failures.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = l } }

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	meter := otel.Meter("github.com/d9705996/modmail-viewer/internal/cache")
	c.hits, _ = meter.Int64Counter("cache.hits", metric.WithDescription("response cache hits"))
	c.misses, _ = meter.Int64Counter("cache.misses", metric.WithDescription("response cache misses"))
	return c
}

// Key hashes the semantic components of a cache key so that tokens and ids
// never appear in plaintext and key length stays bounded.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

// Get returns the in-memory value for key. Expired entries are dropped.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value in memory for ttl. It does not write the second tier;
// Coalesce does that once the value is known to be serialisable.
func (c *Cache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SharedTimeout bounds a shared call once it no longer follows the
// cancellation of the caller that started it.
const SharedTimeout = 30 * time.Second

// Coalesce returns the cached value for key or runs fn to produce it. At
// most one fn per key runs at a time; concurrent callers wait for it and
// receive the same value or error. Errors are not cached.
func Coalesce[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, c, key); ok {
		c.hits.Add(ctx, 1)
		return v, nil
	}
	c.misses.Add(ctx, 1)

	return Do(ctx, &c.group, key, func(ctx context.Context) (T, error) {
		// Another caller may have filled the key while we waited to enter Do.
		if v, ok := lookup[T](ctx, c, key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		c.Set(ctx, key, v, ttl)
		c.store(ctx, key, v, ttl)
		return v, nil
	})
}

// Do runs fn once per key among concurrent callers sharing g. fn sees the
// starting caller's context values but not its cancellation, bounded by
// SharedTimeout; each caller stops waiting when its own ctx ends.
func Do[T any](ctx context.Context, g *singleflight.Group, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedTimeout)
		defer cancel()
		return fn(shared)
	})
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	if v, ok := c.Get(ctx, key); ok {
		if t, ok := v.(T); ok {
			return t, true
		}
	}
	if c.tier == nil {
		return zero, false
	}
	raw, ok, err := c.tier.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "cache tier read failed", "err", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.log.WarnContext(ctx, "cache tier value undecodable", "err", err)
		return zero, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if c.tier == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.WarnContext(ctx, "cache tier encode failed", "err", fmt.Errorf("marshal: %w", err))
		return
	}
	if err := c.tier.Set(ctx, key, raw, ttl); err != nil {
		c.log.WarnContext(ctx, "cache tier write failed", "err", err)
	}
}
