// Package handler exposes the query resolver and the index over JSON HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/logger"
)

type Resolver interface {
	Resolve(ctx context.Context, text string) (*searcher.Result, error)
}

// Index is the read side of the posting-list store.
type Index interface {
	Lookup(term string) index.PostingList
	MirrorLookup(ctx context.Context, term string) (index.PostingList, error)
	Stats() indexer.Stats
}

// Counter reports the size of a store, such as the embedding cache or the
// ledger.
type Counter interface {
	Len() int
}

type Options struct {
	Cache        *cache.QueryCache
	Tracker      analytics.Tracker
	Embeddings   Counter
	Ledger       Counter
	DefaultLimit int
	MaxResults   int
}

type Handler struct {
	resolver Resolver
	index    Index
	opts     Options
	logger   *slog.Logger
}

func New(resolver Resolver, idx Index, opts Options) *Handler {
	if opts.Tracker == nil {
		opts.Tracker = analytics.Nop{}
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	return &Handler{
		resolver: resolver,
		index:    idx,
		opts:     opts,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

type errorResponse struct {
	Error  string           `json:"error"`
	Result *searcher.Result `json:"result,omitempty"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	limit := h.opts.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, h.opts.MaxResults)
	}

	var (
		result   *searcher.Result
		cacheHit bool
		err      error
	)
	compute := func() (*searcher.Result, error) {
		return h.resolver.Resolve(ctx, query)
	}
	if h.opts.Cache != nil {
		result, cacheHit, err = h.opts.Cache.GetOrCompute(ctx, query, compute)
	} else {
		result, err = compute()
	}

	if result != nil {
		h.opts.Tracker.Track(searcher.Event(ctx, result, time.Since(start), cacheHit))
	}
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Error("search failed", "query", query, "status", status, "error", err)
		msg := "search failed"
		if errors.Is(err, apperrors.ErrEmbeddingUnavailable) {
			msg = "semantic search unavailable"
		}
		h.writeJSON(w, status, errorResponse{Error: msg, Result: result})
		return
	}

	page := result.Truncate(limit)
	log.Info("search completed",
		"query", query,
		"stage", result.Stage,
		"total_hits", result.TotalHits,
		"returned", len(page.Results),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, page)
}

// Term returns the postings of one term. With source=mirror they are read
// from the document database instead of the local index.
func (h *Handler) Term(w http.ResponseWriter, r *http.Request) {
	term := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "term")))
	if term == "" {
		h.writeError(w, http.StatusBadRequest, "term is required")
		return
	}

	var (
		postings index.PostingList
		err      error
	)
	switch source := r.URL.Query().Get("source"); source {
	case "", "index":
		postings = h.index.Lookup(term)
	case "mirror":
		postings, err = h.index.MirrorLookup(r.Context(), term)
	default:
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", source))
		return
	}
	if err != nil {
		h.logger.Error("mirror lookup failed", "term", term, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "mirror unavailable")
		return
	}
	if len(postings) == 0 {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("term %q is not indexed", term))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"term":     term,
		"postings": postings,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.index.Stats()
	body := map[string]any{
		"terms":     stats.Terms,
		"documents": stats.Documents,
	}
	if h.opts.Embeddings != nil {
		body["embeddings"] = h.opts.Embeddings.Len()
	}
	if h.opts.Ledger != nil {
		body["processed"] = h.opts.Ledger.Len()
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.opts.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.opts.Cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
