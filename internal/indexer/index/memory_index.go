// Package index holds the in-memory inverted index: term to an
// insertion-ordered posting list, at most one posting per (term, document).
package index

import (
	"math"
	"sort"
)

// MemoryIndex is not safe for concurrent use; the posting store serializes
// access to it.
type MemoryIndex struct {
	terms map[string]PostingList
	// docTerms lists, per document, the terms it has postings under.
	docTerms map[string][]string
	members  map[string]map[string]struct{}
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		terms:    make(map[string]PostingList),
		docTerms: make(map[string][]string),
		members:  make(map[string]map[string]struct{}),
	}
}

// FromEntries builds an index from snapshot entries, dropping empty lists and
// duplicate (term, document) pairs.
func FromEntries(entries []TermEntry) *MemoryIndex {
	m := NewMemoryIndex()
	for _, e := range entries {
		for _, p := range e.Postings {
			m.Add(e.Term, p)
		}
	}
	return m
}

// Add appends p under term. It returns false, leaving the index untouched,
// when term already has a posting for p.Documento.
func (m *MemoryIndex) Add(term string, p Posting) bool {
	if m.Has(term, p.Documento) {
		return false
	}
	if p.Estado == "" {
		p.Estado = EstadoActivo
	}
	docs, ok := m.members[term]
	if !ok {
		docs = make(map[string]struct{})
		m.members[term] = docs
	}
	docs[p.Documento] = struct{}{}
	m.terms[term] = append(m.terms[term], p)
	m.docTerms[p.Documento] = append(m.docTerms[p.Documento], term)
	return true
}

// Has reports whether term has a posting for docID.
func (m *MemoryIndex) Has(term, docID string) bool {
	_, ok := m.members[term][docID]
	return ok
}

// Posting returns the posting of docID under term.
func (m *MemoryIndex) Posting(term, docID string) (Posting, bool) {
	if !m.Has(term, docID) {
		return Posting{}, false
	}
	for _, p := range m.terms[term] {
		if p.Documento == docID {
			return p, true
		}
	}
	return Posting{}, false
}

// HasDocument reports whether any term has a posting for docID.
func (m *MemoryIndex) HasDocument(docID string) bool {
	_, ok := m.docTerms[docID]
	return ok
}

// DocumentPostings returns a copy of every posting of docID with its term,
// in the order the terms were added.
func (m *MemoryIndex) DocumentPostings(docID string) []TermPosting {
	terms := m.docTerms[docID]
	out := make([]TermPosting, 0, len(terms))
	for _, term := range terms {
		if p, ok := m.Posting(term, docID); ok {
			out = append(out, TermPosting{Term: term, Posting: p})
		}
	}
	return out
}

// Postings returns a copy of the list for term, nil when absent.
func (m *MemoryIndex) Postings(term string) PostingList {
	list, ok := m.terms[term]
	if !ok {
		return nil
	}
	out := make(PostingList, len(list))
	copy(out, list)
	return out
}

// RemoveDocument deletes every posting of docID and any term left empty.
// It returns the number of postings removed.
func (m *MemoryIndex) RemoveDocument(docID string) int {
	terms, ok := m.docTerms[docID]
	if !ok {
		return 0
	}
	removed := 0
	for _, term := range terms {
		list := m.terms[term]
		kept := list[:0]
		for _, p := range list {
			if p.Documento == docID {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		delete(m.members[term], docID)
		if len(kept) == 0 {
			delete(m.terms, term)
			delete(m.members, term)
			continue
		}
		m.terms[term] = kept
	}
	delete(m.docTerms, docID)
	return removed
}

// SetStatus sets Estado on every posting of docID and returns how many
// postings were changed.
func (m *MemoryIndex) SetStatus(docID, estado string) int {
	changed := 0
	for _, term := range m.docTerms[docID] {
		list := m.terms[term]
		for i := range list {
			if list[i].Documento == docID && list[i].Estado != estado {
				list[i].Estado = estado
				changed++
			}
		}
	}
	return changed
}

// Recompute sets idf = ln(N/df) and tf_idf = tf*idf on every posting, with N
// the number of indexed documents and df the length of the term's list.
func (m *MemoryIndex) Recompute() {
	n := float64(len(m.docTerms))
	for _, list := range m.terms {
		idf := 0.0
		if df := len(list); df > 0 && n > 0 {
			idf = math.Log(n / float64(df))
		}
		for i := range list {
			list[i].IDF = idf
			list[i].TFIDF = list[i].TF * idf
		}
	}
}

// Entries returns a deep copy of the index sorted by term; posting order
// within a term is preserved.
func (m *MemoryIndex) Entries() []TermEntry {
	entries := make([]TermEntry, 0, len(m.terms))
	for _, term := range m.Terms() {
		entries = append(entries, TermEntry{Term: term, Postings: m.Postings(term)})
	}
	return entries
}

// All flattens the index into term postings, sorted by term.
func (m *MemoryIndex) All() []TermPosting {
	var out []TermPosting
	for _, term := range m.Terms() {
		for _, p := range m.terms[term] {
			out = append(out, TermPosting{Term: term, Posting: p})
		}
	}
	return out
}

// Terms returns every key, sorted.
func (m *MemoryIndex) Terms() []string {
	terms := make([]string, 0, len(m.terms))
	for t := range m.terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Documents returns the IDs of every document with at least one posting,
// sorted.
func (m *MemoryIndex) Documents() []string {
	docs := make([]string, 0, len(m.docTerms))
	for d := range m.docTerms {
		docs = append(docs, d)
	}
	sort.Strings(docs)
	return docs
}

// TermCount is the number of keys.
func (m *MemoryIndex) TermCount() int {
	return len(m.terms)
}

// DocCount is N in the idf formula: documents with at least one posting.
func (m *MemoryIndex) DocCount() int {
	return len(m.docTerms)
}
