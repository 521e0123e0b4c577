// Package cache memoises batch search results in Redis. Concurrent misses for
// the same pattern share one scan, and any catalog change drops every cached
// result. A hit is served only while every cataloged file is still on disk;
// otherwise the engine runs so it can prune the missing entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docstore/pkg/redis"
)

const keyPrefix = "docstore:search:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Searcher runs an uncached batch search.
type Searcher interface {
	Search(ctx context.Context, pattern string) ([]search.FileMatch, error)
}

// QueryCache wraps a Searcher with a Redis read-through cache.
type QueryCache struct {
	backend Backend
	next    Searcher
	catalog catalog.Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64

	// generation is stamped on every stored result; Expire bumps it so
	// results computed before a catalog change are never served or stored.
	generation atomic.Uint64
}

// cached is the stored form of one search result.
type cached struct {
	Generation uint64              `json:"generation"`
	Results    []search.FileMatch `json:"results"`
}

// New creates a QueryCache. store is the catalog the searcher scans; a hit
// is discarded when any of its files is gone from disk. store and m may be
// nil.
func New(backend Backend, next Searcher, store catalog.Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		backend: backend,
		next:    next,
		catalog: store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	// Results left in Redis by an earlier process never match.
	c.generation.Store(uint64(time.Now().UnixNano()))
	return c
}

// Search returns the cached result for pattern or computes and stores it.
// Cache failures fall back to a direct search. Concurrent misses share one
// scan, which keeps running if the caller that started it goes away.
func (c *QueryCache) Search(ctx context.Context, pattern string) ([]search.FileMatch, error) {
	if pattern == "" {
		return c.next.Search(ctx, pattern)
	}
	key := buildKey(pattern)
	if result, ok := c.lookup(ctx, key); ok {
		if c.onDisk(ctx, result) {
			c.hit()
			return result, nil
		}
		c.Expire()
	}
	c.miss()
	ch := c.group.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		// Another caller may have filled the key while this one waited.
		if result, ok := c.lookup(ctx, key); ok && c.onDisk(ctx, result) {
			return result, nil
		}
		generation := c.generation.Load()
		result, err := c.next.Search(ctx, pattern)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, generation, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("search shared with in-flight request", "key", key)
		}
		return res.Val.([]search.FileMatch), nil
	}
}

func (c *QueryCache) lookup(ctx context.Context, key string) ([]search.FileMatch, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var entry cached
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	if entry.Generation != c.generation.Load() {
		return nil, false
	}
	if entry.Results == nil {
		entry.Results = []search.FileMatch{}
	}
	return entry.Results, true
}

// onDisk reports whether every cataloged file and every file in result
// still exists.
func (c *QueryCache) onDisk(ctx context.Context, result []search.FileMatch) bool {
	paths := make([]string, 0, len(result))
	for _, m := range result {
		paths = append(paths, m.FilePath)
	}
	if c.catalog != nil {
		entries, err := c.catalog.List(ctx)
		if err != nil {
			c.logger.Warn("listing catalog for cache check failed", "error", err)
			return false
		}
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("cached result references a missing file", "file_path", p)
			return false
		}
	}
	return true
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// set stores result unless the cache expired while it was computed.
func (c *QueryCache) set(ctx context.Context, key string, generation uint64, result []search.FileMatch) {
	if c.generation.Load() != generation {
		c.logger.Debug("discarding result computed before invalidation", "key", key)
		return
	}
	data, err := json.Marshal(cached{Generation: generation, Results: result})
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Expire makes every stored result unusable at once. Invalidate also
// reclaims the Redis keys.
func (c *QueryCache) Expire() {
	c.generation.Add(1)
}

// Invalidate drops every cached search result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.Expire()
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts since creation.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the raw pattern; byte search is case- and
// whitespace-sensitive so no normalisation applies.
func buildKey(pattern string) string {
	hash := sha256.Sum256([]byte(pattern))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
