package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/tokenizer"
)

// RebuildReport summarizes a bulk rebuild.
type RebuildReport struct {
	Documents int           `json:"documents"`
	Skipped   []string      `json:"skipped"`
	Carried   []string      `json:"carried"`
	Embedded  int           `json:"embedded"`
	Mirrored  int           `json:"mirrored"`
	Duration  time.Duration `json:"duration"`
}

// Rebuild extracts every file in paths with up to workers concurrent
// extractions, replaces the index with one built from the results and
// commits each indexed document. Files that fail extraction, or whose
// extraction panics, are skipped and reported; a skipped document that was
// already indexed keeps its current postings, so its ledger entry still
// matches the index. Documents without a cached embedding are embedded
// afterwards.
func (p *Pipeline) Rebuild(ctx context.Context, paths []string, workers int) (*RebuildReport, error) {
	start := time.Now()
	if workers < 1 {
		workers = 1
	}

	docs := make([]*Document, len(paths))
	sources := make([]*indexer.Source, len(paths))
	var (
		mu      sync.Mutex
		skipped []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			doc := NewDocument(path, DocumentID(path))
			skip := func(err error) {
				p.logger.Warn("skipping document", "doc_id", doc.ID, "error", err)
				mu.Lock()
				skipped = append(skipped, doc.ID)
				mu.Unlock()
			}
			defer func() {
				if r := recover(); r != nil {
					docs[i], sources[i] = nil, nil
					skip(fmt.Errorf("extraction panicked: %v", r))
				}
			}()

			res, err := p.extract(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				skip(err)
				return nil
			}
			doc.Text, doc.Pages = res.Text, res.Pages
			a := tokenizer.Analyze(doc.Text)
			docs[i] = &doc
			sources[i] = &indexer.Source{Meta: doc.Meta, Tokens: a.Tokens}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting documents: %w", err)
	}

	var batch []indexer.Source
	for _, src := range sources {
		if src != nil {
			batch = append(batch, *src)
		}
	}
	sort.Strings(skipped)
	carried, err := p.Store.RebuildKeeping(batch, skipped)
	if err != nil {
		return nil, err
	}

	report := &RebuildReport{Skipped: skipped, Carried: carried}
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if err := p.Ledger.Commit(doc.ID); err != nil {
			return nil, fmt.Errorf("committing %s: %w", doc.ID, err)
		}
		report.Documents++
		if p.embed(ctx, *doc, p.logger.With("doc_id", doc.ID)) {
			report.Embedded++
		}
	}

	n, err := p.Store.SyncMirror(ctx)
	if err != nil {
		p.logger.Warn("mirror sync after rebuild failed", "error", err)
	}
	report.Mirrored = n

	stats := p.Store.Stats()
	p.Metrics.SetIndexSize(stats.Terms, stats.Documents, p.Cache.Len())
	if p.Invalidator != nil {
		if err := p.Invalidator.Invalidate(ctx); err != nil {
			p.logger.Warn("query cache invalidation failed", "error", err)
		}
	}

	report.Duration = time.Since(start)
	p.logger.Info("rebuild complete",
		"documents", report.Documents,
		"skipped", len(report.Skipped),
		"carried", len(report.Carried),
		"embedded", report.Embedded,
		"terms", stats.Terms,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}
