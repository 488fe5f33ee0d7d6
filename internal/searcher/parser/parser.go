package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/tokenizer"
)

// QueryPlan is a free-text query reduced to the terms the index can match.
// Terms are de-duplicated and keep their first-seen order; stopwords and
// punctuation are gone, exactly as at ingestion time.
type QueryPlan struct {
	Terms    []string
	RawQuery string
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:    make([]string, 0),
		RawQuery: query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	plan.Terms = append(plan.Terms, tokenizer.Terms(query)...)
	return plan
}

// Blank reports whether the query has no text at all. A query made only of
// stopwords is not blank; it goes straight to the semantic fallback.
func (p *QueryPlan) Blank() bool {
	return strings.TrimSpace(p.RawQuery) == ""
}

// Key is a normalized form of the plan used for cache keys: the raw text
// collapsed to lowercase single-spaced words.
func (p *QueryPlan) Key() string {
	return strings.Join(strings.Fields(strings.ToLower(p.RawQuery)), " ")
}
