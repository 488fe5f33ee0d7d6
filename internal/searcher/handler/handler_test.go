package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/health"
)

type stubResolver struct {
	res *searcher.Result
	err error
}

func (s stubResolver) Resolve(_ context.Context, text string) (*searcher.Result, error) {
	if s.res != nil {
		s.res.Query = text
	}
	return s.res, s.err
}

type stubIndex struct {
	postings  map[string]index.PostingList
	mirrorErr error
}

func (s stubIndex) Lookup(term string) index.PostingList { return s.postings[term] }

func (s stubIndex) MirrorLookup(_ context.Context, term string) (index.PostingList, error) {
	if s.mirrorErr != nil {
		return nil, s.mirrorErr
	}
	return s.postings[term], nil
}

func (s stubIndex) Stats() indexer.Stats {
	return indexer.Stats{Terms: len(s.postings), Documents: 2}
}

type count int

func (c count) Len() int { return int(c) }

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.SearchEvent
}

func (r *recordingTracker) Track(e any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if se, ok := e.(analytics.SearchEvent); ok {
		r.events = append(r.events, se)
	}
}

func threeHits() *searcher.Result {
	score := 0.9
	return &searcher.Result{
		Terms:     []string{"permiso"},
		Stage:     searcher.StageLexicalAND,
		TotalHits: 3,
		Results: []ranker.ScoredDoc{
			{DocumentID: "A", Score: &score, TFIDF: 0.2},
			{DocumentID: "B", TFIDF: 0.1},
			{DocumentID: "C", TFIDF: 0.05},
		},
	}
}

func newServer(t *testing.T, res stubResolver, idx stubIndex, tracker analytics.Tracker) http.Handler {
	t.Helper()
	h := New(res, idx, Options{
		Tracker:      tracker,
		Embeddings:   count(5),
		Ledger:       count(2),
		DefaultLimit: 2,
		MaxResults:   10,
	})
	return NewRouter(h, RouterConfig{
		Health:    health.NewChecker(),
		Analytics: analytics.NewHandler(analytics.NewAggregator()),
	})
}

func get(t *testing.T, srv http.Handler, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestSearchAppliesLimit(t *testing.T) {
	tracker := &recordingTracker{}
	srv := newServer(t, stubResolver{res: threeHits()}, stubIndex{}, tracker)

	rec, body := get(t, srv, "/api/v1/search?q=permiso")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lexical_and", body["stage"])
	assert.Equal(t, 3.0, body["total_hits"])
	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "A", first["document_id"])
	assert.Equal(t, 0.9, first["score"])
	assert.Nil(t, results[1].(map[string]any)["score"])

	_, body = get(t, srv, "/api/v1/search?q=permiso&limit=50")
	assert.Len(t, body["results"].([]any), 3)

	require.Len(t, tracker.events, 2)
	assert.Equal(t, "permiso", tracker.events[0].Query)
	assert.Equal(t, 3, tracker.events[0].TotalHits)
	assert.NotEmpty(t, tracker.events[0].RequestID)
}

func TestSearchRejectsBadInput(t *testing.T) {
	srv := newServer(t, stubResolver{res: threeHits()}, stubIndex{}, nil)

	for _, url := range []string{"/api/v1/search", "/api/v1/search?q=%20%20", "/api/v1/search?q=x&limit=0", "/api/v1/search?q=x&limit=abc"} {
		rec, body := get(t, srv, url)
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
		assert.NotEmpty(t, body["error"], url)
	}
}

func TestSearchSurfacesEmbeddingFailure(t *testing.T) {
	failed := &searcher.Result{Stage: searcher.StageSemantic, Results: []ranker.ScoredDoc{}, EmbeddingFailed: true}
	err := fmt.Errorf("semantic fallback: %w", apperrors.ErrEmbeddingUnavailable)
	srv := newServer(t, stubResolver{res: failed, err: err}, stubIndex{}, nil)

	rec, body := get(t, srv, "/api/v1/search?q=xyzzy")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "semantic search unavailable", body["error"])
	result := body["result"].(map[string]any)
	assert.Equal(t, "semantic", result["stage"])
	assert.Empty(t, result["results"])
}

func TestTermLookup(t *testing.T) {
	numero := "12"
	idx := stubIndex{postings: map[string]index.PostingList{
		"alcaldía": {{Documento: "A", NumeroNorma: &numero, TF: 0.5, IDF: 0.69, TFIDF: 0.345, Estado: index.EstadoActivo}},
	}}
	srv := newServer(t, stubResolver{}, idx, nil)

	rec, body := get(t, srv, "/api/v1/terms/Alcald%C3%ADa")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alcaldía", body["term"])
	postings := body["postings"].([]any)
	require.Len(t, postings, 1)
	p := postings[0].(map[string]any)
	assert.Equal(t, "A", p["documento"])
	assert.Equal(t, "12", p["numero_norma"])
	assert.Nil(t, p["fecha"])
	assert.Equal(t, "activo", p["estado"])

	rec, _ = get(t, srv, "/api/v1/terms/alcald%C3%ADa?source=mirror")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = get(t, srv, "/api/v1/terms/inexistente")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, srv, "/api/v1/terms/alcald%C3%ADa?source=disk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTermLookupMirrorDown(t *testing.T) {
	idx := stubIndex{mirrorErr: fmt.Errorf("query: %w", apperrors.ErrMirrorUnavailable)}
	srv := newServer(t, stubResolver{}, idx, nil)

	rec, _ := get(t, srv, "/api/v1/terms/decreto?source=mirror")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsAndCacheDisabled(t *testing.T) {
	idx := stubIndex{postings: map[string]index.PostingList{"a": nil, "b": nil}}
	srv := newServer(t, stubResolver{}, idx, nil)

	_, body := get(t, srv, "/api/v1/stats")
	assert.Equal(t, 2.0, body["terms"])
	assert.Equal(t, 2.0, body["documents"])
	assert.Equal(t, 5.0, body["embeddings"])
	assert.Equal(t, 2.0, body["processed"])

	_, body = get(t, srv, "/api/v1/cache/stats")
	assert.Equal(t, "disabled", body["status"])

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndAnalyticsRoutes(t *testing.T) {
	srv := newServer(t, stubResolver{}, stubIndex{}, nil)

	rec, _ := get(t, srv, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = get(t, srv, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = get(t, srv, "/api/v1/analytics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
