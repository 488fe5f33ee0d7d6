package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/embedding/openai"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/mirror"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/lockfile"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
)

// access says whether a command writes the snapshot, ledger or embedding
// cache. Writers hold the data lock for the life of the app, so a CLI
// maintenance command cannot run against files a serve process is rewriting
// from its own memory.
type access int

const (
	readOnly access = iota
	exclusive
)

// app holds the components shared by every subcommand. Optional
// infrastructure (Postgres, Redis) is nil when disabled or unreachable.
type app struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	pg         *postgres.Client
	redis      *pkgredis.Client
	store      *indexer.Store
	embeddings *embedding.Cache
	ledger     *ledger.Ledger
	embedder   *embedding.Guarded
	extractor  extract.Extractor
	queryCache *cache.QueryCache
	resolver   *searcher.Resolver
	closers    []func() error
}

func newApp(ctx context.Context, cfg *config.Config, mode access) (*app, error) {
	return buildApp(ctx, cfg, mode, prometheus.DefaultRegisterer)
}

func buildApp(ctx context.Context, cfg *config.Config, mode access, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg}
	if mode == exclusive {
		lock, err := lockfile.Acquire(cfg.Index.LockPath)
		if err != nil {
			return nil, fmt.Errorf("acquiring data lock: %w", err)
		}
		a.closers = append(a.closers, lock.Release)
	}
	a.metrics = metrics.New(reg)
	onStateChange := func(name string, to resilience.State) {
		a.metrics.SetBreakerState(name, int(to))
	}

	var m mirror.Mirror
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, mirror disabled", "error", err)
		} else if pm, err := mirror.NewPostgres(ctx, pg); err != nil {
			slog.Warn("mirror migration failed, mirror disabled", "error", err)
			pg.Close()
		} else {
			a.pg = pg
			m = pm
			a.closers = append(a.closers, pg.Close)
		}
	}

	store, err := indexer.Open(cfg.Index.SnapshotPath, m)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	if a.embeddings, err = embedding.LoadCache(cfg.Index.EmbeddingsPath); err != nil {
		a.Close()
		return nil, err
	}
	if a.ledger, err = ledger.Open(cfg.Crawler.LedgerPath); err != nil {
		a.Close()
		return nil, err
	}

	client, err := openai.New(cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.embedder = embedding.NewGuarded(client,
		resilience.NewCircuitBreaker("embedding", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Embedding.FailureThreshold,
			ResetTimeout:     cfg.Embedding.ResetTimeout,
			OnStateChange:    onStateChange,
		}),
		resilience.RetryConfig{MaxAttempts: cfg.Embedding.MaxAttempts},
	)

	a.extractor, err = extract.New(cfg.OCR, resilience.NewCircuitBreaker("ocr", resilience.CircuitBreakerConfig{
		OnStateChange: onStateChange,
	}))
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			a.redis = rc
			a.closers = append(a.closers, rc.Close)
		}
	}
	a.queryCache = cache.New(a.redis, a.metrics).WithGeneration(a.store.Generation)
	a.resolver = searcher.NewResolver(a.store, a.embeddings, a.embedder, a.metrics)

	stats := a.store.Stats()
	a.metrics.SetIndexSize(stats.Terms, stats.Documents, a.embeddings.Len())
	return a, nil
}

func (a *app) pipeline(tracker analytics.Tracker) *ingestion.Pipeline {
	return ingestion.NewPipeline(ingestion.Deps{
		Extractor:   a.extractor,
		Store:       a.store,
		Embedder:    a.embedder,
		Cache:       a.embeddings,
		Ledger:      a.ledger,
		Tracker:     tracker,
		Invalidator: a.queryCache,
		Metrics:     a.metrics,
		JobTimeout:  a.cfg.Crawler.JobTimeout,
	})
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing: %w", errors.Join(errs...))
	}
	return nil
}
