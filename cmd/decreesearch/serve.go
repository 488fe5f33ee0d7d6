package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics/history"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/crawler"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/decree-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
)

const (
	watchSettle      = 2 * time.Second
	snapshotInterval = time.Minute
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawler and the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, exclusive)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	g, ctx := errgroup.WithContext(ctx)

	aggregator := analytics.NewAggregator()
	var tracker analytics.Tracker = aggregator
	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		topic := cfg.Kafka.Topics.AnalyticsEvents
		collector = analytics.NewCollector(kafka.NewProducer(cfg.Kafka, topic), 10000, 100, time.Second)
		collector.Start(ctx)
		tracker = collector
		consumer := kafka.NewConsumer(cfg.Kafka, topic, aggregator.HandleEvent())
		g.Go(func() error { return consumer.Start(ctx) })
		slog.Info("analytics events routed through kafka", "topic", topic)
	}

	if a.pg != nil {
		hs, err := history.NewStore(ctx, a.pg)
		if err != nil {
			slog.Warn("analytics history disabled", "error", err)
		} else {
			if last, err := hs.LatestSnapshot(ctx); err != nil {
				slog.Warn("reading last analytics snapshot failed", "error", err)
			} else if last != nil {
				slog.Info("previous analytics snapshot", "searches", last.TotalSearches, "documents_indexed", last.TotalDocsIndexed)
			}
			g.Go(func() error {
				hs.Run(ctx, aggregator, snapshotInterval)
				return nil
			})
		}
		g.Go(func() error {
			if _, err := a.store.SyncMirror(ctx); err != nil {
				slog.Warn("startup mirror sync failed", "error", err)
			}
			return nil
		})
	}

	if err := os.MkdirAll(cfg.Crawler.DocumentsDir, 0o755); err != nil {
		return fmt.Errorf("creating documents folder: %w", err)
	}
	c, err := crawler.New(crawler.Config{
		Dir:          cfg.Crawler.DocumentsDir,
		Extension:    cfg.Crawler.Extension,
		PollInterval: cfg.Crawler.PollInterval,
		Workers:      cfg.Crawler.Workers,
	}, a.ledger, a.pipeline(tracker), a.metrics)
	if err != nil {
		return err
	}
	g.Go(func() error { return c.Run(ctx) })

	if cfg.Crawler.Watch {
		w, err := crawler.NewWatcher(cfg.Crawler.DocumentsDir, cfg.Crawler.Extension, watchSettle)
		if err != nil {
			slog.Warn("file watching disabled, polling only", "error", err)
		} else {
			g.Go(func() error { return w.Run(ctx, c.Trigger) })
		}
	}

	checker := healthChecker(a)
	h := handler.New(a.resolver, a.store, handler.Options{
		Cache:        a.queryCache,
		Tracker:      tracker,
		Embeddings:   a.embeddings,
		Ledger:       a.ledger,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
	})
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.NewRouter(h, handler.RouterConfig{
			Metrics:        a.metrics,
			Health:         checker,
			Analytics:      analytics.NewHandler(aggregator),
			Documents: ingesthandler.New(ingesthandler.Config{
				Dir:       cfg.Crawler.DocumentsDir,
				Extension: cfg.Crawler.Extension,
				MaxBytes:  cfg.Server.MaxUploadBytes,
				Trigger:   c.Trigger,
			}, ingesthandler.Stages{
				Processed: a.ledger,
				Indexed:   ingesthandler.TrackerFunc(a.store.HasDocument),
				Embedded:  ingesthandler.TrackerFunc(a.embeddings.Has),
			}),
			RequestTimeout: cfg.Server.WriteTimeout,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
	}

	g.Go(func() error {
		slog.Info("query api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("query api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	c.Close()
	if collector != nil {
		collector.Close()
	}
	slog.Info("decreesearch stopped")
	return err
}

func healthChecker(a *app) *health.Checker {
	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		s := a.store.Stats()
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d terms, %d documents", s.Terms, s.Documents),
		}
	})
	checker.Register("embedding", func(ctx context.Context) health.ComponentHealth {
		if st := a.embedder.State(); st != resilience.StateClosed {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + st.String()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if a.pg != nil {
		checker.Register("postgres", health.Ping(a.store.PingMirror, false))
	}
	if a.redis != nil {
		checker.Register("redis", health.Ping(a.redis.Ping, false))
	}
	return checker
}
