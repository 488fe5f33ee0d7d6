package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ledger"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
)

// Ingester processes one document. A nil error means the document was
// committed to the ledger.
type Ingester interface {
	Ingest(ctx context.Context, path, docID string) error
}

type Config struct {
	Dir          string
	Extension    string
	PollInterval time.Duration
	Workers      int
}

// Crawler runs periodic scans. Each document is claimed in the ledger
// before dispatch and released when its job ends, so overlapping scans
// never ingest the same document twice.
type Crawler struct {
	cfg      Config
	ledger   *ledger.Ledger
	ingester Ingester
	pool     *ants.Pool
	metrics  *metrics.Metrics
	trigger  chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func New(cfg Config, led *ledger.Ledger, ing Ingester, m *metrics.Metrics) (*Crawler, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Minute
	}
	logger := slog.Default().With("component", "crawler")
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		logger.Error("ingestion job panicked", "panic", p)
	}))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	return &Crawler{
		cfg:      cfg,
		ledger:   led,
		ingester: ing,
		pool:     pool,
		metrics:  m,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// ScanOnce dispatches every pending document to the pool and returns how
// many were dispatched. It does not wait for the jobs; use Wait.
func (c *Crawler) ScanOnce(ctx context.Context) (int, error) {
	files, err := Scan(c.cfg.Dir, c.cfg.Extension, c.ledger)
	if err != nil {
		c.metrics.ObserveScan(0, err)
		return 0, err
	}

	dispatched := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if !c.ledger.Claim(f.ID) {
			continue
		}
		c.wg.Add(1)
		err := c.pool.Submit(func() {
			defer c.wg.Done()
			defer c.ledger.Release(f.ID)
			c.run(ctx, f)
		})
		if err != nil {
			c.wg.Done()
			c.ledger.Release(f.ID)
			c.metrics.ObserveScan(len(files), err)
			return dispatched, fmt.Errorf("submitting %s: %w", f.ID, err)
		}
		dispatched++
	}
	c.metrics.ObserveScan(len(files), nil)
	if len(files) > 0 {
		c.logger.Info("scan complete",
			"pending", len(files),
			"dispatched", dispatched,
			"in_flight", c.ledger.InFlight(),
		)
	}
	return dispatched, nil
}

func (c *Crawler) run(ctx context.Context, f File) {
	if err := c.ingester.Ingest(ctx, f.Path, f.ID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrEmptyExtraction), errors.Is(err, apperrors.ErrTimeout):
			c.logger.Warn("document will be retried", "doc_id", f.ID, "error", err)
		case errors.Is(err, context.Canceled):
			c.logger.Debug("ingestion cancelled", "doc_id", f.ID)
		default:
			c.logger.Error("ingestion failed", "doc_id", f.ID, "error", err)
		}
	}
}

// Trigger requests a scan ahead of the next tick. Requests made while one
// is already pending are merged.
func (c *Crawler) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run scans immediately, then on every poll interval and on Trigger, until
// ctx is cancelled.
func (c *Crawler) Run(ctx context.Context) error {
	c.logger.Info("crawler started",
		"dir", c.cfg.Dir,
		"extension", c.cfg.Extension,
		"interval", c.cfg.PollInterval,
		"workers", c.cfg.Workers,
	)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.ScanOnce(ctx); err != nil {
			c.logger.Error("scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("crawler stopped")
			return nil
		case <-ticker.C:
		case <-c.trigger:
		}
	}
}

// Wait blocks until every dispatched job has finished.
func (c *Crawler) Wait() {
	c.wg.Wait()
}

// Close waits for running jobs and releases the pool.
func (c *Crawler) Close() {
	c.wg.Wait()
	c.pool.Release()
}
