package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ledger"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/tracing"
)

// CacheInvalidator drops cached query results after the index changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Deps are the collaborators of a Pipeline. Tracker, Invalidator and
// Metrics are optional.
type Deps struct {
	Extractor   extract.Extractor
	Store       *indexer.Store
	Embedder    embedding.Embedder
	Cache       *embedding.Cache
	Ledger      *ledger.Ledger
	Tracker     analytics.Tracker
	Invalidator CacheInvalidator
	Metrics     *metrics.Metrics
	// JobTimeout bounds text extraction; zero means no limit.
	JobTimeout time.Duration
}

type Pipeline struct {
	Deps
	logger *slog.Logger
}

func NewPipeline(deps Deps) *Pipeline {
	if deps.Tracker == nil {
		deps.Tracker = analytics.Nop{}
	}
	return &Pipeline{
		Deps:   deps,
		logger: slog.Default().With("component", "ingestion"),
	}
}

// Ingest processes the file at path as document docID:
//
//  1. extract text; empty text fails with ErrEmptyExtraction
//  2. tokenize and parse the decree number and year from the name
//  3. append to the posting store (failure aborts)
//  4. mirror the new postings (failure is logged)
//  5. embed and cache the text (failure is logged)
//  6. commit docID to the ledger
//
// A returned error means docID was not committed and a later scan retries
// it.
func (p *Pipeline) Ingest(ctx context.Context, path, docID string) error {
	start := time.Now()
	ctx = logger.WithDocumentID(ctx, docID)
	ctx, span := tracing.StartSpan(ctx, "ingest", "")
	span.SetAttr("doc_id", docID)
	log := logger.FromContext(ctx).With("component", "ingestion")
	defer func() {
		span.End()
		span.Log(log)
	}()

	doc := NewDocument(path, docID)
	if doc.Meta.NumeroNorma == nil {
		log.Debug("file name carries no decree number", "path", path)
	}

	res, err := p.extract(ctx, path)
	if err != nil {
		p.Metrics.IngestFailed("extract")
		span.SetError(err)
		log.Warn("extraction failed", "path", path, "error", err)
		return err
	}
	doc.Text, doc.Pages = res.Text, res.Pages

	analysis := tokenizer.Analyze(doc.Text)
	created, err := p.index(ctx, doc, analysis)
	if err != nil {
		p.Metrics.IngestFailed("index")
		span.SetError(err)
		log.Error("indexing failed", "error", err)
		return err
	}

	mirrored := p.mirror(ctx, created, log)
	embedded := p.embed(ctx, doc, log)

	_, commitSpan := tracing.StartChildSpan(ctx, "commit")
	err = p.Ledger.Commit(docID)
	commitSpan.End()
	if err != nil {
		p.Metrics.IngestFailed("commit")
		span.SetError(err)
		log.Error("ledger commit failed", "error", err)
		return fmt.Errorf("committing %s: %w", docID, err)
	}

	elapsed := time.Since(start)
	p.Metrics.ObserveIngest(elapsed, doc.Pages, analysis.Kept(), analysis.Removed)
	stats := p.Store.Stats()
	p.Metrics.SetIndexSize(stats.Terms, stats.Documents, p.Cache.Len())

	if len(created) > 0 || embedded {
		if p.Invalidator != nil {
			if err := p.Invalidator.Invalidate(ctx); err != nil {
				log.Warn("query cache invalidation failed", "error", err)
			}
		}
	}

	p.Tracker.Track(analytics.IndexEvent{
		Type:          analytics.EventIndexDoc,
		DocumentID:    docID,
		NumeroNorma:   doc.Meta.NumeroNorma,
		Year:          doc.Meta.Fecha,
		Pages:         doc.Pages,
		TokensKept:    analysis.Kept(),
		TokensRemoved: analysis.Removed,
		NewPostings:   len(created),
		Mirrored:      mirrored,
		Embedded:      embedded,
		LatencyMs:     elapsed.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	})

	log.Info("document ingested",
		"pages", doc.Pages,
		"tokens_kept", analysis.Kept(),
		"tokens_removed", analysis.Removed,
		"new_postings", len(created),
		"seconds_per_page", secondsPerPage(elapsed, doc.Pages),
		"mirrored", mirrored,
		"embedded", embedded,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

func (p *Pipeline) extract(ctx context.Context, path string) (extract.Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "extract")
	defer span.End()

	var res extract.Result
	// A timeout runs the extractor on its own goroutine, so panics on
	// malformed files are turned into errors here.
	err := resilience.WithTimeout(ctx, p.JobTimeout, "extract", func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("extractor panicked: %v", r)
			}
		}()
		r, err := p.Extractor.Extract(ctx, path)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return extract.Result{}, fmt.Errorf("extracting %s: %w", path, err)
	}
	span.SetAttr("pages", res.Pages)
	if res.Empty() {
		return extract.Result{}, fmt.Errorf("%s: %w", path, apperrors.ErrEmptyExtraction)
	}
	return res, nil
}

func (p *Pipeline) index(ctx context.Context, doc Document, a tokenizer.Analysis) ([]index.TermPosting, error) {
	_, span := tracing.StartChildSpan(ctx, "index")
	defer span.End()

	created, err := p.Store.AppendDocument(indexer.Source{Meta: doc.Meta, Tokens: a.Tokens})
	if err != nil {
		return nil, fmt.Errorf("appending %s: %w", doc.ID, err)
	}
	span.SetAttr("new_postings", len(created))
	return created, nil
}

// mirror reports whether the new postings reached the document database.
func (p *Pipeline) mirror(ctx context.Context, created []index.TermPosting, log *slog.Logger) bool {
	if len(created) == 0 {
		return true
	}
	ctx, span := tracing.StartChildSpan(ctx, "mirror")
	defer span.End()
	if err := p.Store.Replicate(ctx, created); err != nil {
		p.Metrics.IngestFailed("mirror")
		span.SetError(err)
		log.Warn("mirror write failed, continuing", "postings", len(created), "error", err)
		return false
	}
	return true
}

// embed reports whether the document has a cached embedding afterwards.
func (p *Pipeline) embed(ctx context.Context, doc Document, log *slog.Logger) bool {
	if p.Cache.Has(doc.ID) {
		log.Debug("embedding already cached")
		return true
	}
	ctx, span := tracing.StartChildSpan(ctx, "embed")
	defer span.End()

	vec, err := p.Embedder.Embed(ctx, doc.Text)
	if err == nil {
		_, err = p.Cache.Put(doc.ID, vec)
	}
	if err != nil {
		p.Metrics.IngestFailed("embed")
		span.SetError(err)
		log.Warn("embedding failed, continuing", "error", err)
		return false
	}
	span.SetAttr("dimensions", len(vec))
	return true
}

func secondsPerPage(d time.Duration, pages int) float64 {
	if pages <= 0 {
		return 0
	}
	return d.Seconds() / float64(pages)
}

// IsSoftFailure reports errors that are expected to clear on their own,
// such as a scan that produced no text yet.
func IsSoftFailure(err error) bool {
	return errors.Is(err, apperrors.ErrEmptyExtraction) || errors.Is(err, apperrors.ErrTimeout)
}
