// Package cache stores resolved queries in Redis. Keys carry the index
// generation read before the query was resolved, so a result computed while
// a document was being appended lands under a generation nobody reads again.
// Every index change also flushes the whole key space.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/redis"
)

const keyPrefix = "search:"

// kv is the part of the Redis client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache works without Redis too: a nil client keeps request
// coalescing and skips storage.
type QueryCache struct {
	client     kv
	ttl        time.Duration
	generation func() uint64
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(client *pkgredis.Client, m *metrics.Metrics) *QueryCache {
	c := newCache(nil, 0, m)
	if client != nil {
		c.client = client
		c.ttl = client.TTL()
	}
	return c
}

func newCache(client kv, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:     client,
		ttl:        ttl,
		generation: func() uint64 { return 0 },
		metrics:    m,
		logger:     slog.Default().With("component", "query-cache"),
	}
}

// WithGeneration makes keys depend on the index state reported by fn,
// typically Store.Generation.
func (c *QueryCache) WithGeneration(fn func() uint64) *QueryCache {
	if fn != nil {
		c.generation = fn
	}
	return c
}

// Get looks query up under the current index generation.
func (c *QueryCache) Get(ctx context.Context, query string) (*searcher.Result, bool) {
	return c.get(ctx, query, c.buildKey(query, c.generation()))
}

func (c *QueryCache) get(ctx context.Context, query, key string) (*searcher.Result, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result searcher.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &result, true
}

// Set stores result under the current index generation.
func (c *QueryCache) Set(ctx context.Context, query string, result *searcher.Result) {
	c.set(ctx, c.buildKey(query, c.generation()), result)
}

func (c *QueryCache) set(ctx context.Context, key string, result *searcher.Result) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for query or computes it once for
// all concurrent callers. The generation is read before computing and the
// result is stored under it. Results of a failed embedding are not stored so
// the next request retries the collaborator.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	computeFn func() (*searcher.Result, error),
) (*searcher.Result, bool, error) {
	key := c.buildKey(query, c.generation())
	if result, ok := c.get(ctx, query, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return result, err
		}
		if !result.EmbeddingFailed {
			c.set(ctx, key, result)
		}
		return result, nil
	})
	result, _ := val.(*searcher.Result)
	return result, false, err
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	pattern := keyPrefix + "*"
	deleted, err := c.client.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

func (c *QueryCache) buildKey(query string, generation uint64) string {
	hash := sha256.Sum256([]byte(parser.Parse(query).Key()))
	return fmt.Sprintf("%s%d:%x", keyPrefix, generation, hash[:16])
}
