package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/mirror"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ledger"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
)

type fakeExtractor map[string]extract.Result

func (f fakeExtractor) Extract(_ context.Context, path string) (extract.Result, error) {
	res, ok := f[filepath.Base(path)]
	if !ok {
		return extract.Result{}, errors.New("ocr service returned 500")
	}
	return res, nil
}

// panickingExtractor panics on the listed files, the way a PDF parser does on
// malformed input, and delegates the rest.
type panickingExtractor struct {
	fakeExtractor
	bad map[string]bool
}

func (p panickingExtractor) Extract(ctx context.Context, path string) (extract.Result, error) {
	if p.bad[filepath.Base(path)] {
		panic("malformed xref table")
	}
	return p.fakeExtractor.Extract(ctx, path)
}

type failingMirror struct{ mirror.Nop }

func (failingMirror) UpsertAll(context.Context, []index.TermPosting) error {
	return apperrors.ErrMirrorUnavailable
}

type recordingTracker struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingTracker) Track(e any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTracker) indexEvents() []analytics.IndexEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []analytics.IndexEvent
	for _, e := range r.events {
		if ie, ok := e.(analytics.IndexEvent); ok {
			out = append(out, ie)
		}
	}
	return out
}

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.n.Add(1)
	return nil
}

type fixture struct {
	pipeline    *Pipeline
	store       *indexer.Store
	ledger      *ledger.Ledger
	cache       *embedding.Cache
	tracker     *recordingTracker
	invalidator *countingInvalidator
	embedCalls  *atomic.Int32
	dir         string
}

func newFixture(t *testing.T, ex extract.Extractor, m mirror.Mirror, embedErr error) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := indexer.Open(filepath.Join(dir, "index", "indice_invertido.json"), m)
	require.NoError(t, err)
	led, err := ledger.Open(filepath.Join(dir, "archivos_procesados.txt"))
	require.NoError(t, err)
	cache, err := embedding.LoadCache(filepath.Join(dir, "embeddings.json"))
	require.NoError(t, err)

	calls := &atomic.Int32{}
	embedder := embedding.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		if embedErr != nil {
			return nil, embedErr
		}
		return []float32{float32(len(text)), 1, 0}, nil
	})

	f := &fixture{
		store:       store,
		ledger:      led,
		cache:       cache,
		tracker:     &recordingTracker{},
		invalidator: &countingInvalidator{},
		embedCalls:  calls,
		dir:         dir,
	}
	f.pipeline = NewPipeline(Deps{
		Extractor:   ex,
		Store:       store,
		Embedder:    embedder,
		Cache:       cache,
		Ledger:      led,
		Tracker:     f.tracker,
		Invalidator: f.invalidator,
	})
	return f
}

const decree = "Decreto_Nº_12_del_2020"

func TestIngestIndexesAndCommits(t *testing.T) {
	ex := fakeExtractor{decree + ".pdf": {Text: "Permiso de construcción; permiso municipal.", Pages: 2}}
	f := newFixture(t, ex, nil, nil)

	err := f.pipeline.Ingest(context.Background(), filepath.Join(f.dir, decree+".pdf"), decree)
	require.NoError(t, err)

	assert.True(t, f.ledger.Contains(decree))
	assert.True(t, f.cache.Has(decree))
	assert.Equal(t, int32(1), f.invalidator.n.Load())

	postings := f.store.Lookup("permiso")
	require.Len(t, postings, 1)
	p := postings[0]
	assert.Equal(t, decree, p.Documento)
	require.NotNil(t, p.NumeroNorma)
	assert.Equal(t, "12", *p.NumeroNorma)
	require.NotNil(t, p.Fecha)
	assert.Equal(t, "2020", *p.Fecha)
	assert.InDelta(t, 2.0/4.0, p.TF, 1e-9)
	assert.Empty(t, f.store.Lookup("de"))

	events := f.tracker.indexEvents()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Pages)
	assert.Equal(t, 4, events[0].TokensKept)
	assert.Equal(t, 1, events[0].TokensRemoved)
	assert.Equal(t, 3, events[0].NewPostings)
	assert.True(t, events[0].Mirrored)
	assert.True(t, events[0].Embedded)
}

func TestIngestEmptyExtractionIsNotCommitted(t *testing.T) {
	ex := fakeExtractor{"blank.pdf": {Text: "  \n ", Pages: 1}}
	f := newFixture(t, ex, nil, nil)

	err := f.pipeline.Ingest(context.Background(), "blank.pdf", "blank")
	require.ErrorIs(t, err, apperrors.ErrEmptyExtraction)
	assert.True(t, IsSoftFailure(err))

	assert.False(t, f.ledger.Contains("blank"))
	assert.Equal(t, 0, f.store.Stats().Documents)
	assert.Equal(t, int32(0), f.embedCalls.Load())
	assert.Empty(t, f.tracker.indexEvents())
}

func TestIngestExtractorErrorIsNotCommitted(t *testing.T) {
	f := newFixture(t, fakeExtractor{}, nil, nil)

	err := f.pipeline.Ingest(context.Background(), "missing.pdf", "missing")
	require.Error(t, err)
	assert.False(t, IsSoftFailure(err))
	assert.False(t, f.ledger.Contains("missing"))
}

func TestIngestStoreFailureIsNotCommitted(t *testing.T) {
	ex := fakeExtractor{"d1.pdf": {Text: "licitación pública", Pages: 1}}
	f := newFixture(t, ex, nil, nil)

	// Replace the snapshot directory with a plain file so the write fails.
	indexDir := filepath.Join(f.dir, "index")
	require.NoError(t, os.RemoveAll(indexDir))
	require.NoError(t, os.WriteFile(indexDir, []byte("x"), 0o644))

	err := f.pipeline.Ingest(context.Background(), "d1.pdf", "d1")
	require.Error(t, err)
	assert.False(t, f.ledger.Contains("d1"))
	assert.False(t, f.store.HasDocument("d1"))
	assert.Equal(t, int32(0), f.embedCalls.Load())
}

func TestIngestToleratesMirrorAndEmbeddingFailures(t *testing.T) {
	ex := fakeExtractor{"d1.pdf": {Text: "licitación pública", Pages: 1}}
	f := newFixture(t, ex, failingMirror{}, apperrors.ErrEmbeddingUnavailable)

	err := f.pipeline.Ingest(context.Background(), "d1.pdf", "d1")
	require.NoError(t, err)

	assert.True(t, f.ledger.Contains("d1"))
	assert.True(t, f.store.HasDocument("d1"))
	assert.False(t, f.cache.Has("d1"))

	events := f.tracker.indexEvents()
	require.Len(t, events, 1)
	assert.False(t, events[0].Mirrored)
	assert.False(t, events[0].Embedded)
	assert.Nil(t, events[0].NumeroNorma)
}

func TestIngestTwiceIsIdempotent(t *testing.T) {
	ex := fakeExtractor{"d1.pdf": {Text: "licitación pública", Pages: 1}}
	f := newFixture(t, ex, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.pipeline.Ingest(ctx, "d1.pdf", "d1"))
	before := f.store.Lookup("licitación")
	require.NoError(t, f.pipeline.Ingest(ctx, "d1.pdf", "d1"))

	assert.Equal(t, before, f.store.Lookup("licitación"))
	assert.Equal(t, int32(1), f.embedCalls.Load())
	assert.Equal(t, 1, f.ledger.Len())

	events := f.tracker.indexEvents()
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[1].NewPostings)
}

func TestRebuildSkipsFailedDocuments(t *testing.T) {
	ex := fakeExtractor{
		"a.pdf": {Text: "permiso ambiental", Pages: 1},
		"b.pdf": {Text: "permiso municipal", Pages: 1},
	}
	f := newFixture(t, ex, nil, nil)

	report, err := f.pipeline.Rebuild(context.Background(), []string{"a.pdf", "b.pdf", "c.pdf"}, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, []string{"c"}, report.Skipped)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 2, f.store.Stats().Documents)
	assert.Equal(t, []string{"a", "b"}, f.ledger.Processed())
	assert.Len(t, f.store.Lookup("permiso"), 2)
	assert.Equal(t, int32(1), f.invalidator.n.Load())
}

func TestRebuildKeepsIndexedDocumentWhoseExtractionFails(t *testing.T) {
	ex := fakeExtractor{
		"a.pdf": {Text: "permiso ambiental", Pages: 1},
		"c.pdf": {Text: "licencia de funcionamiento", Pages: 1},
	}
	f := newFixture(t, ex, nil, nil)
	require.NoError(t, f.pipeline.Ingest(context.Background(), "c.pdf", "c"))
	require.True(t, f.store.HasDocument("c"))
	require.True(t, f.ledger.Contains("c"))

	delete(ex, "c.pdf")
	report, err := f.pipeline.Rebuild(context.Background(), []string{"a.pdf", "c.pdf"}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"c"}, report.Skipped)
	assert.Equal(t, []string{"c"}, report.Carried)
	assert.Equal(t, 1, report.Documents)
	assert.True(t, f.store.HasDocument("c"))
	assert.True(t, f.ledger.Contains("c"))
	require.Len(t, f.store.Lookup("licencia"), 1)
	assert.Equal(t, 2, f.store.Stats().Documents)
}

func TestRebuildSurvivesPanickingExtractor(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Minute} {
		t.Run(timeout.String(), func(t *testing.T) {
			ex := panickingExtractor{
				fakeExtractor: fakeExtractor{"a.pdf": {Text: "permiso ambiental", Pages: 1}},
				bad:           map[string]bool{"roto.pdf": true},
			}
			f := newFixture(t, ex, nil, nil)
			f.pipeline.JobTimeout = timeout

			report, err := f.pipeline.Rebuild(context.Background(), []string{"a.pdf", "roto.pdf"}, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"roto"}, report.Skipped)
			assert.Equal(t, 1, report.Documents)
			assert.False(t, f.ledger.Contains("roto"))
		})
	}
}

func TestIngestTurnsExtractorPanicIntoError(t *testing.T) {
	ex := panickingExtractor{bad: map[string]bool{"roto.pdf": true}}
	f := newFixture(t, ex, nil, nil)

	err := f.pipeline.Ingest(context.Background(), "roto.pdf", "roto")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, f.ledger.Contains("roto"))
}
