// Package indexer owns the posting-list store: the authoritative in-memory
// inverted index, its JSON snapshot on disk and its document-database mirror.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/mirror"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/tokenizer"
)

// Source is one document's metadata and surviving tokens, the input to both
// the incremental and the bulk path.
type Source struct {
	Meta   index.DocumentMeta
	Tokens []tokenizer.Token
}

type Stats struct {
	Terms     int `json:"terms"`
	Documents int `json:"documents"`
}

// Store serializes every mutation behind one lock. Reads take the read lock
// and return copies.
type Store struct {
	mu     sync.RWMutex
	idx    *index.MemoryIndex
	path   string
	mirror mirror.Mirror
	logger *slog.Logger
	// generation advances on every committed change to the index.
	generation atomic.Uint64
}

// Open loads the snapshot at path; a missing file starts an empty index. A
// nil mirror is replaced by mirror.Nop.
func Open(path string, m mirror.Mirror) (*Store, error) {
	entries, err := snapshot.Read(path)
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	if m == nil {
		m = mirror.Nop{}
	}
	s := &Store{
		idx:    index.FromEntries(entries),
		path:   path,
		mirror: m,
		logger: slog.Default().With("component", "posting-store"),
	}
	s.logger.Info("index loaded",
		"path", path,
		"terms", s.idx.TermCount(),
		"documents", s.idx.DocCount(),
	)
	return s, nil
}

// Persist rewrites the whole snapshot.
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := snapshot.Write(s.path, s.idx.Entries()); err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}
	return nil
}

// AddPosting inserts one posting without recomputing weights or persisting.
// It is a no-op returning false when the (term, document) pair exists.
func (s *Store) AddPosting(term string, p index.Posting) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Add(term, p)
}

// TermFrequencyUpdate recomputes idf and tf_idf for every term from the
// current document count.
func (s *Store) TermFrequencyUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Recompute()
}

// AppendDocument indexes one document, recomputes idf over the new document
// count, persists and returns the postings it created. A document that is
// already indexed yields no postings and leaves the store unchanged. If the
// snapshot cannot be written the document is rolled back.
func (s *Store) AppendDocument(src Source) ([]index.TermPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx.HasDocument(src.Meta.ID) {
		s.logger.Debug("document already indexed", "doc_id", src.Meta.ID)
		return nil, nil
	}
	terms := addSource(s.idx, src)
	if len(terms) == 0 {
		return nil, nil
	}
	s.idx.Recompute()

	if err := s.persistLocked(); err != nil {
		s.idx.RemoveDocument(src.Meta.ID)
		s.idx.Recompute()
		return nil, err
	}
	s.generation.Add(1)

	created := make([]index.TermPosting, 0, len(terms))
	for _, term := range terms {
		if p, ok := s.idx.Posting(term, src.Meta.ID); ok {
			created = append(created, index.TermPosting{Term: term, Posting: p})
		}
	}
	s.logger.Debug("document appended",
		"doc_id", src.Meta.ID,
		"new_postings", len(created),
		"documents", s.idx.DocCount(),
	)
	return created, nil
}

// RebuildFromScratch replaces the index with one built from docs and
// persists it. The previous index stays in place if persisting fails.
func (s *Store) RebuildFromScratch(docs []Source) error {
	_, err := s.RebuildKeeping(docs, nil)
	return err
}

// RebuildKeeping is RebuildFromScratch that also copies into the new index
// the current postings of every document in keep that docs does not cover.
// Weights of the copied postings are recomputed with the rest. It returns the
// IDs that were carried over.
func (s *Store) RebuildKeeping(docs []Source, keep []string) ([]string, error) {
	fresh := index.NewMemoryIndex()
	for _, src := range docs {
		if fresh.HasDocument(src.Meta.ID) {
			continue
		}
		addSource(fresh, src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var carried []string
	for _, id := range keep {
		if fresh.HasDocument(id) || !s.idx.HasDocument(id) {
			continue
		}
		for _, tp := range s.idx.DocumentPostings(id) {
			fresh.Add(tp.Term, tp.Posting)
		}
		carried = append(carried, id)
	}
	fresh.Recompute()

	if err := snapshot.Write(s.path, fresh.Entries()); err != nil {
		return nil, fmt.Errorf("persisting rebuilt index: %w", err)
	}
	s.idx = fresh
	s.generation.Add(1)
	s.logger.Info("index rebuilt",
		"terms", fresh.TermCount(),
		"documents", fresh.DocCount(),
		"carried", len(carried),
	)
	return carried, nil
}

// RemoveDocument drops every posting of docID, recomputes weights and
// persists. It returns the number of postings removed.
func (s *Store) RemoveDocument(docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.idx.RemoveDocument(docID)
	if removed == 0 {
		return 0, nil
	}
	s.idx.Recompute()
	s.generation.Add(1)
	return removed, s.persistLocked()
}

// SetStatus flips the lifecycle flag on every posting of docID and persists.
func (s *Store) SetStatus(docID, estado string) (int, error) {
	if estado != index.EstadoActivo && estado != index.EstadoInactivo {
		return 0, fmt.Errorf("unknown status %q", estado)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.idx.SetStatus(docID, estado)
	if changed == 0 {
		return 0, nil
	}
	s.generation.Add(1)
	return changed, s.persistLocked()
}

// Lookup returns a copy of the postings of term.
func (s *Store) Lookup(term string) index.PostingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Postings(term)
}

// LookupAll returns copies of the postings of every term, all read under one
// lock so they describe the same index state. Terms without postings are
// left out.
func (s *Store) LookupAll(terms []string) map[string]index.PostingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]index.PostingList, len(terms))
	for _, term := range terms {
		if list := s.idx.Postings(term); len(list) > 0 {
			out[term] = list
		}
	}
	return out
}

// Generation identifies the current index state. Results computed after
// reading generation g reflect at least every change up to g.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

func (s *Store) HasDocument(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.HasDocument(docID)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Terms: s.idx.TermCount(), Documents: s.idx.DocCount()}
}

// Replicate writes postings to the mirror.
func (s *Store) Replicate(ctx context.Context, postings []index.TermPosting) error {
	return s.mirror.UpsertAll(ctx, postings)
}

// SyncMirror pushes every local posting to the mirror and returns how many
// were sent. Existing rows are left alone, so repeating it is harmless.
func (s *Store) SyncMirror(ctx context.Context) (int, error) {
	s.mu.RLock()
	all := s.idx.All()
	s.mu.RUnlock()

	if err := s.mirror.UpsertAll(ctx, all); err != nil {
		return 0, fmt.Errorf("syncing mirror: %w", err)
	}
	s.logger.Info("mirror synced", "postings", len(all))
	return len(all), nil
}

// MirrorLookup reads term's postings from the mirror instead of the local
// index.
func (s *Store) MirrorLookup(ctx context.Context, term string) (index.PostingList, error) {
	postings, err := s.mirror.Find(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("reading %q from mirror: %w", term, err)
	}
	return postings, nil
}

// PingMirror reports the mirror's reachability for health checks.
func (s *Store) PingMirror(ctx context.Context) error {
	return s.mirror.Ping(ctx)
}

// addSource adds one posting per distinct term of src and returns the terms
// in first-seen order. tf is the term's share of the surviving tokens.
func addSource(idx *index.MemoryIndex, src Source) []string {
	total := len(src.Tokens)
	if total == 0 {
		return nil
	}
	counts := make(map[string]int)
	var order []string
	for _, tok := range src.Tokens {
		if counts[tok.Term] == 0 {
			order = append(order, tok.Term)
		}
		counts[tok.Term]++
	}
	added := order[:0]
	for _, term := range order {
		p := index.Posting{
			Documento:   src.Meta.ID,
			NumeroNorma: src.Meta.NumeroNorma,
			TF:          float64(counts[term]) / float64(total),
			Fecha:       src.Meta.Fecha,
			Estado:      index.EstadoActivo,
		}
		if idx.Add(term, p) {
			added = append(added, term)
		}
	}
	return added
}
