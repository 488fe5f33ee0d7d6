// Package searcher resolves free-text queries against the posting-list
// store, relaxing AND to OR and falling back to embedding similarity when no
// term matches.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
)

// Stage names which retrieval step produced a result.
type Stage string

const (
	StageLexicalAND Stage = "lexical_and"
	StageLexicalOR  Stage = "lexical_or"
	StageSemantic   Stage = "semantic"
	StageEmpty      Stage = "empty"
)

type Result struct {
	Query     string             `json:"query"`
	Terms     []string           `json:"terms"`
	Stage     Stage              `json:"stage"`
	TotalHits int                `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	// EmbeddingFailed is set when lexical hits were returned without scores
	// because the query could not be embedded.
	EmbeddingFailed bool `json:"embedding_failed,omitempty"`
}

// Truncate returns a copy of r with at most limit results. TotalHits is
// kept. A non-positive limit returns r unchanged.
func (r *Result) Truncate(limit int) *Result {
	if limit <= 0 || len(r.Results) <= limit {
		return r
	}
	out := *r
	out.Results = r.Results[:limit:limit]
	return &out
}

// PostingSource is the read side of the posting-list store. LookupAll reads
// every term from one consistent index state.
type PostingSource interface {
	LookupAll(terms []string) map[string]index.PostingList
}

// VectorSource is the read side of the embedding cache.
type VectorSource interface {
	Get(docID string) ([]float32, bool)
	Snapshot() []embedding.Entry
}

type Resolver struct {
	postings PostingSource
	vectors  VectorSource
	embedder embedding.Embedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewResolver(postings PostingSource, vectors VectorSource, embedder embedding.Embedder, m *metrics.Metrics) *Resolver {
	return &Resolver{
		postings: postings,
		vectors:  vectors,
		embedder: embedder,
		metrics:  m,
		logger:   slog.Default().With("component", "query-resolver"),
	}
}

// Resolve answers text. Blank text yields StageEmpty. When the semantic
// fallback cannot embed the query the error wraps
// apperrors.ErrEmbeddingUnavailable and the returned result is empty.
func (r *Resolver) Resolve(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	plan := parser.Parse(text)
	res := &Result{
		Query:   text,
		Terms:   plan.Terms,
		Stage:   StageEmpty,
		Results: []ranker.ScoredDoc{},
	}
	if plan.Blank() {
		return res, nil
	}

	perTerm := r.lexicalSets(plan.Terms)
	candidates := intersectPostings(perTerm)
	res.Stage = StageLexicalAND
	if len(candidates) == 0 {
		candidates = unionPostings(perTerm)
		res.Stage = StageLexicalOR
	}

	var err error
	if len(candidates) == 0 {
		res.Stage = StageSemantic
		err = r.semantic(ctx, text, res)
	} else {
		r.lexical(ctx, text, perTerm, candidates, res)
	}

	elapsed := time.Since(start)
	r.metrics.ObserveQuery(string(res.Stage), elapsed)
	logger.FromContext(ctx).With("component", "query-resolver").Info("query resolved",
		"query", text,
		"terms", plan.Terms,
		"stage", res.Stage,
		"hits", res.TotalHits,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, err
}

// lexicalSets returns the active postings of each term, keeping only terms
// that match at least one document. All terms are read from one index state.
func (r *Resolver) lexicalSets(terms []string) map[string]index.PostingList {
	perTerm := make(map[string]index.PostingList, len(terms))
	for term, postings := range r.postings.LookupAll(terms) {
		var active index.PostingList
		for _, p := range postings {
			if p.Active() {
				active = append(active, p)
			}
		}
		if len(active) > 0 {
			perTerm[term] = active
		}
	}
	return perTerm
}

func (r *Resolver) lexical(ctx context.Context, text string, perTerm map[string]index.PostingList, candidates map[string]struct{}, res *Result) {
	weights := make(map[string]float64, len(candidates))
	for _, postings := range perTerm {
		for _, p := range postings {
			if _, ok := candidates[p.Documento]; ok {
				weights[p.Documento] += p.TFIDF
			}
		}
	}
	docs := make([]ranker.ScoredDoc, 0, len(candidates))
	for id := range candidates {
		docs = append(docs, ranker.ScoredDoc{DocumentID: id, TFIDF: weights[id]})
	}

	query, err := r.embedder.Embed(ctx, text)
	if err != nil {
		res.EmbeddingFailed = true
		r.logger.Warn("query embedding failed, returning unscored hits", "error", err)
		query = nil
	}
	ranker.Score(docs, query, r.vectors.Get)
	ranker.Sort(docs)

	res.Results = docs
	res.TotalHits = len(docs)
}

func (r *Resolver) semantic(ctx context.Context, text string, res *Result) error {
	query, err := r.embedder.Embed(ctx, text)
	if err != nil {
		res.EmbeddingFailed = true
		if !errors.Is(err, apperrors.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %w", apperrors.ErrEmbeddingUnavailable, err)
		}
		return fmt.Errorf("semantic fallback: %w", err)
	}
	res.Results = ranker.Semantic(query, r.vectors.Snapshot())
	res.TotalHits = len(res.Results)
	return nil
}

// intersectPostings starts from the shortest list and keeps documents
// present in every other list. No lists gives no documents.
func intersectPostings(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	if len(postingsPerTerm) == 0 {
		return make(map[string]struct{})
	}
	var shortestTerm string
	shortestLen := int(^uint(0) >> 1)
	for term, postings := range postingsPerTerm {
		if len(postings) < shortestLen {
			shortestLen = len(postings)
			shortestTerm = term
		}
	}
	candidates := make(map[string]struct{})
	for _, p := range postingsPerTerm[shortestTerm] {
		candidates[p.Documento] = struct{}{}
	}
	for term, postings := range postingsPerTerm {
		if term == shortestTerm {
			continue
		}
		docSet := make(map[string]struct{}, len(postings))
		for _, p := range postings {
			docSet[p.Documento] = struct{}{}
		}
		for docID := range candidates {
			if _, exists := docSet[docID]; !exists {
				delete(candidates, docID)
			}
		}
	}
	return candidates
}

func unionPostings(postingsPerTerm map[string]index.PostingList) map[string]struct{} {
	result := make(map[string]struct{})
	for _, postings := range postingsPerTerm {
		for _, p := range postings {
			result[p.Documento] = struct{}{}
		}
	}
	return result
}

// Event builds the analytics record of a resolved query.
func Event(ctx context.Context, res *Result, elapsed time.Duration, cacheHit bool) analytics.SearchEvent {
	return analytics.SearchEvent{
		Type:            analytics.EventSearch,
		Query:           res.Query,
		Terms:           res.Terms,
		Stage:           string(res.Stage),
		TotalHits:       res.TotalHits,
		LatencyMs:       elapsed.Milliseconds(),
		CacheHit:        cacheHit,
		EmbeddingFailed: res.EmbeddingFailed,
		Timestamp:       time.Now().UTC(),
		RequestID:       logger.RequestID(ctx),
	}
}
