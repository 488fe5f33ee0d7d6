package indexer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/mirror"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mirror.Nop
	mu   sync.Mutex
	rows []index.TermPosting
	err  error
}

func (r *recordingMirror) UpsertAll(_ context.Context, postings []index.TermPosting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, postings...)
	return nil
}

func source(id, text string) Source {
	return Source{Meta: index.DocumentMeta{ID: id}, Tokens: tokenizer.Tokenize(text)}
}

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indice_invertido.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestAppendDocumentComputesWeights(t *testing.T) {
	s, _ := openStore(t)

	created, err := s.AppendDocument(source("D1", "permiso construcción permiso municipal"))
	require.NoError(t, err)
	assert.Len(t, created, 3)

	_, err = s.AppendDocument(source("D2", "permiso ambiental"))
	require.NoError(t, err)

	p := s.Lookup("permiso")
	require.Len(t, p, 2)
	assert.Equal(t, "D1", p[0].Documento)
	assert.InDelta(t, 0.5, p[0].TF, 1e-12)
	assert.Equal(t, 0.0, p[0].IDF)

	c := s.Lookup("construcción")[0]
	assert.InDelta(t, 0.25, c.TF, 1e-12)
	assert.InDelta(t, math.Log(2), c.IDF, 1e-12)
	assert.InDelta(t, 0.25*math.Log(2), c.TFIDF, 1e-12)

	assert.Equal(t, Stats{Terms: 4, Documents: 2}, s.Stats())
}

func TestAppendDocumentIsIdempotent(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.AppendDocument(source("D1", "decreto alcaldía"))
	require.NoError(t, err)

	created, err := s.AppendDocument(source("D1", "decreto alcaldía otra versión"))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, s.Lookup("decreto"), 1)
	assert.Nil(t, s.Lookup("versión"))
}

func TestAppendDocumentWithoutTokens(t *testing.T) {
	s, _ := openStore(t)
	created, err := s.AppendDocument(source("D1", "de la que el"))
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, 0, s.Stats().Documents)
}

func TestAppendDocumentCarriesMetadata(t *testing.T) {
	s, _ := openStore(t)
	num, year := "123", "2023"
	_, err := s.AppendDocument(Source{
		Meta:   index.DocumentMeta{ID: "Decreto_Nº_123_del_2023", NumeroNorma: &num, Fecha: &year},
		Tokens: tokenizer.Tokenize("permiso"),
	})
	require.NoError(t, err)
	p := s.Lookup("permiso")[0]
	assert.Equal(t, "123", *p.NumeroNorma)
	assert.Equal(t, "2023", *p.Fecha)
	assert.Equal(t, index.EstadoActivo, p.Estado)
}

func TestAppendDocumentPersistsAndReloads(t *testing.T) {
	s, path := openStore(t)
	_, err := s.AppendDocument(source("D1", "permiso construcción"))
	require.NoError(t, err)
	_, err = s.AppendDocument(source("D2", "permiso"))
	require.NoError(t, err)

	reloaded, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, s.Stats(), reloaded.Stats())
	assert.Equal(t, s.Lookup("construcción"), reloaded.Lookup("construcción"))
}

func TestAppendDocumentRollsBackOnPersistFailure(t *testing.T) {
	s, _ := openStore(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	s.path = filepath.Join(blocker, "idx.json")

	_, err := s.AppendDocument(source("D1", "permiso"))
	assert.Error(t, err)
	assert.False(t, s.HasDocument("D1"))
	assert.Nil(t, s.Lookup("permiso"))
}

func TestIDFNeverStaleAfterAppend(t *testing.T) {
	s, _ := openStore(t)
	for i, text := range []string{"permiso", "permiso obra", "obra vial", "vial"} {
		_, err := s.AppendDocument(source(string(rune('A'+i)), text))
		require.NoError(t, err)
	}
	n := float64(s.Stats().Documents)
	for _, term := range []string{"permiso", "obra", "vial"} {
		list := s.Lookup(term)
		want := math.Log(n / float64(len(list)))
		for _, p := range list {
			assert.InDelta(t, want, p.IDF, 1e-12, term)
		}
	}
}

func TestRebuildFromScratchMatchesIncremental(t *testing.T) {
	docs := []Source{
		source("D1", "permiso construcción permiso"),
		source("D2", "construcción vial"),
		source("D3", "decreto alcaldía vial"),
	}
	incremental, _ := openStore(t)
	for _, d := range docs {
		_, err := incremental.AppendDocument(d)
		require.NoError(t, err)
	}

	bulk, _ := openStore(t)
	_, err := bulk.AppendDocument(source("OLD", "obsoleto"))
	require.NoError(t, err)
	require.NoError(t, bulk.RebuildFromScratch(docs))

	assert.Nil(t, bulk.Lookup("obsoleto"))
	assert.Equal(t, incremental.Stats(), bulk.Stats())
	for _, term := range []string{"permiso", "construcción", "vial", "alcaldía"} {
		assert.Equal(t, incremental.Lookup(term), bulk.Lookup(term), term)
	}
}

func TestRemoveDocumentAndSetStatus(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.AppendDocument(source("D1", "permiso único"))
	require.NoError(t, err)
	_, err = s.AppendDocument(source("D2", "permiso"))
	require.NoError(t, err)

	changed, err := s.SetStatus("D2", index.EstadoInactivo)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.False(t, s.Lookup("permiso")[1].Active())

	_, err = s.SetStatus("D2", "borrado")
	assert.Error(t, err)

	removed, err := s.RemoveDocument("D1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Nil(t, s.Lookup("único"))
	assert.Equal(t, 0.0, s.Lookup("permiso")[0].IDF)
}

func TestSyncMirrorAndReplicate(t *testing.T) {
	rec := &recordingMirror{}
	s, err := Open(filepath.Join(t.TempDir(), "idx.json"), rec)
	require.NoError(t, err)

	created, err := s.AppendDocument(source("D1", "permiso construcción"))
	require.NoError(t, err)
	require.NoError(t, s.Replicate(context.Background(), created))
	assert.Len(t, rec.rows, 2)

	n, err := s.SyncMirror(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec.err = errors.New("connection refused")
	_, err = s.SyncMirror(context.Background())
	assert.Error(t, err)
}

func TestConcurrentAppendsDoNotDuplicate(t *testing.T) {
	s, _ := openStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AppendDocument(source("D1", "permiso construcción"))
		}()
	}
	wg.Wait()
	assert.Len(t, s.Lookup("permiso"), 1)
	assert.Equal(t, 1, s.Stats().Documents)
}

func TestTermFrequencyIsShareOfKeptTokens(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.AppendDocument(source("D1", "norma norma decreto"))
	require.NoError(t, err)

	norma := s.Lookup("norma")
	require.Len(t, norma, 1)
	assert.InDelta(t, 2.0/3.0, norma[0].TF, 1e-12)
	decreto := s.Lookup("decreto")
	require.Len(t, decreto, 1)
	assert.InDelta(t, 1.0/3.0, decreto[0].TF, 1e-12)
}

func TestIDFNeverDropsWhenOtherDocumentsArrive(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.AppendDocument(source("D1", "permiso obra"))
	require.NoError(t, err)
	_, err = s.AppendDocument(source("D2", "obra"))
	require.NoError(t, err)

	prev := s.Lookup("permiso")[0].IDF
	for i, text := range []string{"obra vial", "decreto", "vial alcaldía", "norma"} {
		_, err := s.AppendDocument(source(string(rune('E'+i)), text))
		require.NoError(t, err)
		idf := s.Lookup("permiso")[0].IDF
		assert.GreaterOrEqual(t, idf, prev, text)
		prev = idf
	}
}

func TestRebuildKeepingCarriesIndexedDocuments(t *testing.T) {
	s, path := openStore(t)
	_, err := s.AppendDocument(source("A", "permiso obra"))
	require.NoError(t, err)
	_, err = s.AppendDocument(source("C", "licencia ambiental licencia"))
	require.NoError(t, err)

	carried, err := s.RebuildKeeping([]Source{source("A", "permiso obra")}, []string{"C", "NEVER"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, carried)

	licencia := s.Lookup("licencia")
	require.Len(t, licencia, 1)
	assert.Equal(t, "C", licencia[0].Documento)
	assert.InDelta(t, 2.0/3.0, licencia[0].TF, 1e-12)
	assert.InDelta(t, math.Log(2), licencia[0].IDF, 1e-12)
	assert.Equal(t, 2, s.Stats().Documents)

	reloaded, err := Open(path, nil)
	require.NoError(t, err)
	assert.True(t, reloaded.HasDocument("C"))
}

func TestRebuildKeepingPrefersFreshSource(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.AppendDocument(source("A", "permiso"))
	require.NoError(t, err)

	carried, err := s.RebuildKeeping([]Source{source("A", "licencia")}, []string{"A"})
	require.NoError(t, err)
	assert.Empty(t, carried)
	assert.Nil(t, s.Lookup("permiso"))
	assert.Len(t, s.Lookup("licencia"), 1)
}

func TestLookupAllSkipsUnknownTerms(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.AppendDocument(source("D1", "permiso obra"))
	require.NoError(t, err)

	got := s.LookupAll([]string{"permiso", "inexistente", "obra"})
	assert.Len(t, got, 2)
	assert.Equal(t, s.Lookup("permiso"), got["permiso"])
	assert.NotContains(t, got, "inexistente")
}

func TestGenerationAdvancesOnChange(t *testing.T) {
	s, _ := openStore(t)
	g0 := s.Generation()

	_, err := s.AppendDocument(source("D1", "permiso"))
	require.NoError(t, err)
	g1 := s.Generation()
	assert.Greater(t, g1, g0)

	_, err = s.AppendDocument(source("D1", "permiso"))
	require.NoError(t, err)
	assert.Equal(t, g1, s.Generation(), "re-ingest changes nothing")

	_, err = s.SetStatus("D1", index.EstadoInactivo)
	require.NoError(t, err)
	g2 := s.Generation()
	assert.Greater(t, g2, g1)

	require.NoError(t, s.RebuildFromScratch(nil))
	assert.Greater(t, s.Generation(), g2)
}
