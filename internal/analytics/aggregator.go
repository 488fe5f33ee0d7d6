package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	SearchesByStage   map[string]int64 `json:"searches_by_stage"`
	SemanticFallbacks int64            `json:"semantic_fallbacks"`
	EmbeddingFailures int64            `json:"embedding_failures"`
	CacheHits         int64            `json:"cache_hits"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	TotalDocsIndexed  int64            `json:"total_docs_indexed"`
	TotalPagesIndexed int64            `json:"total_pages_indexed"`
	DocsNotEmbedded   int64            `json:"docs_not_embedded"`
	DocsNotMirrored   int64            `json:"docs_not_mirrored"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
	Since             time.Time        `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds events into running stats. It is a Tracker itself, used
// directly when Kafka is disabled, and a Kafka consumer handler otherwise.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     int64
	byStage           map[string]int64
	embeddingFailures int64
	cacheHits         int64
	zeroResults       int64
	docsIndexed       int64
	pagesIndexed      int64
	notEmbedded       int64
	notMirrored       int64
	latencies         []int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byStage:           make(map[string]int64),
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

func (a *Aggregator) Track(event any) {
	switch e := event.(type) {
	case SearchEvent:
		a.recordSearchEvent(e)
	case IndexEvent:
		a.recordIndexEvent(e)
	default:
		a.logger.Warn("unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

// HandleEvent decodes Kafka messages by their "type" field. Undecodable
// messages are logged and acknowledged.
func (a *Aggregator) HandleEvent() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		envelope, err := kafka.DecodeJSON[struct {
			Type EventType `json:"type"`
		}](value)
		if err != nil {
			a.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch envelope.Type {
		case EventSearch:
			e, err := kafka.DecodeJSON[SearchEvent](value)
			if err != nil {
				a.logger.Error("failed to decode search event", "error", err)
				return nil
			}
			a.recordSearchEvent(e)
		case EventIndexDoc:
			e, err := kafka.DecodeJSON[IndexEvent](value)
			if err != nil {
				a.logger.Error("failed to decode index event", "error", err)
				return nil
			}
			a.recordIndexEvent(e)
		default:
			a.logger.Warn("skipping analytics event", "type", envelope.Type, "key", string(key))
		}
		return nil
	}
}

func (a *Aggregator) recordSearchEvent(e SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches++
	a.byStage[e.Stage]++
	if e.CacheHit {
		a.cacheHits++
	}
	if e.EmbeddingFailed {
		a.embeddingFailures++
	}
	if e.TotalHits == 0 {
		a.zeroResults++
		a.zeroResultQueries[e.Query]++
	}
	a.queryCounts[e.Query]++
	if len(a.latencies) >= maxLatencySamples {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, e.LatencyMs)
}

func (a *Aggregator) recordIndexEvent(e IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docsIndexed++
	a.pagesIndexed += int64(e.Pages)
	if !e.Embedded {
		a.notEmbedded++
	}
	if !e.Mirrored {
		a.notMirrored++
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:     a.totalSearches,
		SearchesByStage:   make(map[string]int64, len(a.byStage)),
		SemanticFallbacks: a.byStage["semantic"],
		EmbeddingFailures: a.embeddingFailures,
		CacheHits:         a.cacheHits,
		ZeroResultCount:   a.zeroResults,
		TotalDocsIndexed:  a.docsIndexed,
		TotalPagesIndexed: a.pagesIndexed,
		DocsNotEmbedded:   a.notEmbedded,
		DocsNotMirrored:   a.notMirrored,
		Since:             a.startTime.UTC(),
	}
	for stage, n := range a.byStage {
		stats.SearchesByStage[stage] = n
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by query text.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
