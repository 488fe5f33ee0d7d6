// Package analytics collects search and index events, ships them over Kafka
// when it is enabled and aggregates them into the stats served at
// /api/v1/analytics.
package analytics

import "time"

type EventType string

const (
	EventSearch   EventType = "search"
	EventIndexDoc EventType = "index_document"
)

// Tracker accepts events without blocking the caller.
type Tracker interface {
	Track(event any)
}

// Nop discards events.
type Nop struct{}

func (Nop) Track(any) {}

type SearchEvent struct {
	Type            EventType `json:"type"`
	Query           string    `json:"query"`
	Terms           []string  `json:"terms"`
	Stage           string    `json:"stage"`
	TotalHits       int       `json:"total_hits"`
	LatencyMs       int64     `json:"latency_ms"`
	CacheHit        bool      `json:"cache_hit"`
	EmbeddingFailed bool      `json:"embedding_failed"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
}

type IndexEvent struct {
	Type          EventType `json:"type"`
	DocumentID    string    `json:"document_id"`
	NumeroNorma   *string   `json:"numero_norma"`
	Year          *string   `json:"year"`
	Pages         int       `json:"pages"`
	TokensKept    int       `json:"tokens_kept"`
	TokensRemoved int       `json:"tokens_removed"`
	NewPostings   int       `json:"new_postings"`
	Mirrored      bool      `json:"mirrored"`
	Embedded      bool      `json:"embedded"`
	LatencyMs     int64     `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// eventKey is the Kafka partition key for an event.
func eventKey(event any) string {
	switch e := event.(type) {
	case SearchEvent:
		return string(EventSearch)
	case IndexEvent:
		return e.DocumentID
	default:
		return "analytics"
	}
}
