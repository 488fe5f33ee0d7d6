package cache

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/redis"
)

// memoryKV is an in-process stand-in for Redis.
type memoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryKV() *memoryKV { return &memoryKV{data: make(map[string][]byte)} }

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func result(query string) *searcher.Result {
	return &searcher.Result{
		Query:     query,
		Stage:     searcher.StageLexicalAND,
		TotalHits: 1,
		Results:   []ranker.ScoredDoc{{DocumentID: "Decreto_Nº_1_del_2020", TFIDF: 0.25}},
	}
}

func TestKeyIgnoresCaseAndSpacing(t *testing.T) {
	c := New(nil, nil)
	assert.Equal(t, c.buildKey("Decreto  Alcaldía", 3), c.buildKey("decreto alcaldía ", 3))
	assert.NotEqual(t, c.buildKey("decreto", 3), c.buildKey("alcaldía", 3))
	assert.NotEqual(t, c.buildKey("decreto", 3), c.buildKey("decreto", 4))
	assert.Contains(t, c.buildKey("decreto", 3), keyPrefix)
}

func TestWithoutRedisCoalescesConcurrentCalls(t *testing.T) {
	c := New(nil, nil)
	var calls atomic.Int32
	release := make(chan struct{})

	compute := func() (*searcher.Result, error) {
		calls.Add(1)
		<-release
		return result("decreto"), nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, hit, err := c.GetOrCompute(context.Background(), "decreto", compute)
			assert.NoError(t, err)
			assert.False(t, hit)
			assert.Equal(t, "decreto", res.Query)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.NoError(t, c.Invalidate(context.Background()))
}

func TestErrorsPassThroughWithResult(t *testing.T) {
	c := New(nil, nil)
	failed := &searcher.Result{Query: "xyzzy", Stage: searcher.StageSemantic, EmbeddingFailed: true}

	res, hit, err := c.GetOrCompute(context.Background(), "xyzzy", func() (*searcher.Result, error) {
		return failed, errors.New("embedding service unavailable")
	})
	require.Error(t, err)
	assert.False(t, hit)
	assert.Same(t, failed, res)
}

func TestResultComputedDuringAppendIsNotServedAfterIt(t *testing.T) {
	ctx := context.Background()
	var generation atomic.Uint64
	c := newCache(newMemoryKV(), time.Minute, nil).WithGeneration(generation.Load)

	var calls atomic.Int32
	stale := func() (*searcher.Result, error) {
		calls.Add(1)
		// The resolver read the old index; an append commits and the
		// pipeline invalidates before the result is stored.
		generation.Add(1)
		require.NoError(t, c.Invalidate(ctx))
		return result("permiso"), nil
	}
	_, hit, err := c.GetOrCompute(ctx, "permiso", stale)
	require.NoError(t, err)
	assert.False(t, hit)

	fresh := func() (*searcher.Result, error) {
		calls.Add(1)
		return result("permiso"), nil
	}
	_, hit, err = c.GetOrCompute(ctx, "permiso", fresh)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())

	_, hit, err = c.GetOrCompute(ctx, "permiso", fresh)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFailedEmbeddingIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := newMemoryKV()
	c := newCache(store, time.Minute, nil)

	degraded := result("permiso")
	degraded.EmbeddingFailed = true
	_, _, err := c.GetOrCompute(ctx, "permiso", func() (*searcher.Result, error) { return degraded, nil })
	require.NoError(t, err)
	assert.Empty(t, store.data)
}

// TestRedisRoundTrip needs a Redis server; set DS_TEST_REDIS=1 and the
// DS_REDIS_* variables to run it.
func TestRedisRoundTrip(t *testing.T) {
	if os.Getenv("DS_TEST_REDIS") != "1" {
		t.Skip("set DS_TEST_REDIS=1 to run against Redis")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	client, err := pkgredis.NewClient(cfg.Redis)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	c := New(client, nil)
	require.NoError(t, c.Invalidate(ctx))

	var calls atomic.Int32
	compute := func() (*searcher.Result, error) {
		calls.Add(1)
		return result("permiso"), nil
	}

	_, hit, err := c.GetOrCompute(ctx, "permiso", compute)
	require.NoError(t, err)
	assert.False(t, hit)

	got, hit, err := c.GetOrCompute(ctx, "Permiso", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, result("permiso").Results, got.Results)

	require.NoError(t, c.Invalidate(ctx))
	_, hit, err = c.GetOrCompute(ctx, "permiso", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}
