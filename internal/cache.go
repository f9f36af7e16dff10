package internal

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// _entryOverhead approximates the bytes held per cached login.
const _entryOverhead = 64

// _sharedFetchTimeout bounds a lookup that outlives the caller who started it.
const _sharedFetchTimeout = 5 * time.Minute

// RelationCache memoizes relation lookups in memory so crawls served by the
// same process share work. Lookups for the same key are coalesced. Failures
// are never cached.
type RelationCache struct {
	hits   atomic.Int64
	misses atomic.Int64

	wrapped relationFetcher
	mem     *ristretto.Cache[string, Set]
	group   singleflight.Group
	ttl     time.Duration
}

// NewRelationCache wraps a fetcher with an in-memory cache. maxCost bounds
// the cache's approximate size in bytes; zero uses a quarter of the memory
// limit.
func NewRelationCache(ctx context.Context, wrapped relationFetcher, ttl time.Duration, maxCost int64) (*RelationCache, error) {
	if maxCost <= 0 {
		maxCost = debug.SetMemoryLimit(-1) / 4
	}
	mem, err := ristretto.NewCache(&ristretto.Config[string, Set]{
		NumCounters: 1e6, // Track frequency for up to 1M keys.
		MaxCost:     maxCost,
		BufferItems: 64, // Number of keys per Get buffer.
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	c := &RelationCache{
		wrapped: wrapped,
		mem:     mem,
		ttl:     ttl,
	}

	// Log cache stats every minute.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				mem.Close()
				return
			case <-ticker.C:
			}
			hits, misses := c.hits.Load(), c.misses.Load()
			Log(ctx).LogAttrs(ctx, slog.LevelDebug, "cache stats",
				slog.Int64("hits", hits),
				slog.Int64("misses", misses),
				slog.Float64("ratio", float64(hits)/(float64(hits)+float64(misses))),
			)
		}
	}()

	return c, nil
}

// Fetch returns a cached relation or loads it from the wrapped fetcher.
func (c *RelationCache) Fetch(ctx context.Context, kind RelationKind, login string) (Set, error) {
	key := relationKey(kind, login)
	if s, ok := c.mem.Get(key); ok {
		c.hits.Add(1)
		return s.Clone(), nil
	}
	c.misses.Add(1)

	// The lookup is shared with other callers, so one caller going away
	// mustn't fail it for the rest. Each caller still stops waiting when its
	// own ctx is done.
	resC := c.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _sharedFetchTimeout)
		defer cancel()

		s, err := c.wrapped.Fetch(ctx, kind, login)
		if err != nil {
			return nil, err
		}
		c.mem.SetWithTTL(key, s, int64(len(s)+1)*_entryOverhead, c.ttl)
		c.mem.Wait() // Make the entry visible before the flight ends.
		return s, nil
	})

	select {
	case res := <-resC:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers may mutate what they get back.
		return res.Val.(Set).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// relationKey returns a cache key for a relation lookup.
func relationKey(kind RelationKind, login string) string {
	return fmt.Sprintf("%d:%s", kind, login)
}
