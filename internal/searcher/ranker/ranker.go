package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/embedding"
)

// ScoredDoc is one query hit. Score is the cosine similarity to the query
// embedding and is nil when either embedding is missing. TFIDF is the summed
// tf_idf of the matched query terms, zero for semantic hits.
type ScoredDoc struct {
	DocumentID string   `json:"document_id"`
	Score      *float64 `json:"score"`
	TFIDF      float64  `json:"tf_idf"`
}

// Sort orders hits with a score before hits without one, by score
// descending, then by TFIDF descending, then by document ID ascending.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if (a.Score == nil) != (b.Score == nil) {
			return a.Score != nil
		}
		if a.Score != nil && *a.Score != *b.Score {
			return *a.Score > *b.Score
		}
		if a.TFIDF != b.TFIDF {
			return a.TFIDF > b.TFIDF
		}
		return a.DocumentID < b.DocumentID
	})
}

// Semantic scores every cached document against query and returns all of
// them ranked.
func Semantic(query []float32, entries []embedding.Entry) []ScoredDoc {
	out := make([]ScoredDoc, 0, len(entries))
	for _, e := range entries {
		s := round(embedding.Cosine(query, e.Vector))
		out = append(out, ScoredDoc{DocumentID: e.DocumentID, Score: &s})
	}
	Sort(out)
	return out
}

// Score sets each hit's score from its cached embedding. A nil query
// leaves every score nil.
func Score(docs []ScoredDoc, query []float32, lookup func(docID string) ([]float32, bool)) {
	if query == nil {
		return
	}
	for i := range docs {
		vec, ok := lookup(docs[i].DocumentID)
		if !ok {
			continue
		}
		s := round(embedding.Cosine(query, vec))
		docs[i].Score = &s
	}
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
