// Package mirror replicates postings into the document database. The
// replica is best effort: the local index stays authoritative and a full
// sync brings the mirror back in line after outages.
package mirror

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
)

// Mirror has set semantics: writing an existing (term, documento) pair is a
// no-op.
type Mirror interface {
	Upsert(ctx context.Context, term string, p index.Posting) error
	UpsertAll(ctx context.Context, postings []index.TermPosting) error
	Find(ctx context.Context, term string) (index.PostingList, error)
	Ping(ctx context.Context) error
	Close() error
}

// Nop is used when no document database is configured.
type Nop struct{}

func (Nop) Upsert(context.Context, string, index.Posting) error { return nil }
func (Nop) UpsertAll(context.Context, []index.TermPosting) error { return nil }
func (Nop) Find(context.Context, string) (index.PostingList, error) { return nil, nil }
func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }
