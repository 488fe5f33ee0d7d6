package index

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posting(doc string, tf float64) Posting {
	return Posting{Documento: doc, TF: tf}
}

func TestAddRejectsDuplicatePair(t *testing.T) {
	m := NewMemoryIndex()
	assert.True(t, m.Add("decreto", posting("D1", 0.5)))
	assert.False(t, m.Add("decreto", posting("D1", 0.9)))
	assert.True(t, m.Add("decreto", posting("D2", 0.1)))

	list := m.Postings("decreto")
	require.Len(t, list, 2)
	assert.Equal(t, 0.5, list[0].TF)
	assert.Equal(t, EstadoActivo, list[0].Estado)
}

func TestPostingsPreserveInsertionOrder(t *testing.T) {
	m := NewMemoryIndex()
	for _, doc := range []string{"Z", "A", "M"} {
		m.Add("permiso", posting(doc, 1))
	}
	var got []string
	for _, p := range m.Postings("permiso") {
		got = append(got, p.Documento)
	}
	assert.Equal(t, []string{"Z", "A", "M"}, got)
}

func TestPostingsReturnsCopy(t *testing.T) {
	m := NewMemoryIndex()
	m.Add("permiso", posting("D1", 1))
	list := m.Postings("permiso")
	list[0].TF = 42
	assert.Equal(t, 1.0, m.Postings("permiso")[0].TF)
	assert.Nil(t, m.Postings("absent"))
}

func TestDocumentPostings(t *testing.T) {
	m := NewMemoryIndex()
	m.Add("permiso", posting("D1", 0.5))
	m.Add("obra", posting("D2", 1))
	m.Add("licencia", posting("D1", 0.5))

	got := m.DocumentPostings("D1")
	require.Len(t, got, 2)
	assert.Equal(t, "permiso", got[0].Term)
	assert.Equal(t, "licencia", got[1].Term)
	assert.Equal(t, "D1", got[1].Posting.Documento)
	assert.Empty(t, m.DocumentPostings("absent"))
}

func TestRemoveDocumentDropsEmptyKeys(t *testing.T) {
	m := NewMemoryIndex()
	m.Add("decreto", posting("D1", 0.5))
	m.Add("decreto", posting("D2", 0.5))
	m.Add("alcaldía", posting("D1", 0.5))

	assert.Equal(t, 2, m.RemoveDocument("D1"))
	assert.Equal(t, []string{"decreto"}, m.Terms())
	assert.False(t, m.HasDocument("D1"))
	assert.False(t, m.Has("decreto", "D1"))
	assert.Equal(t, 1, m.DocCount())
	assert.Equal(t, 0, m.RemoveDocument("D1"))

	// the pair can be added again after removal
	assert.True(t, m.Add("decreto", posting("D1", 0.2)))
}

func TestSetStatus(t *testing.T) {
	m := NewMemoryIndex()
	m.Add("decreto", posting("D1", 0.5))
	m.Add("permiso", posting("D1", 0.5))
	m.Add("permiso", posting("D2", 0.5))

	assert.Equal(t, 2, m.SetStatus("D1", EstadoInactivo))
	assert.False(t, m.Postings("decreto")[0].Active())
	assert.True(t, m.Postings("permiso")[1].Active())
	assert.Equal(t, 0, m.SetStatus("D1", EstadoInactivo))
}

func TestRecompute(t *testing.T) {
	m := NewMemoryIndex()
	m.Add("decreto", posting("D1", 0.5))
	m.Add("decreto", posting("D2", 0.25))
	m.Add("permiso", posting("D1", 0.5))
	m.Recompute()

	// "decreto" occurs in every document
	for _, p := range m.Postings("decreto") {
		assert.Equal(t, 0.0, p.IDF)
		assert.Equal(t, 0.0, p.TFIDF)
	}
	p := m.Postings("permiso")[0]
	assert.InDelta(t, math.Log(2), p.IDF, 1e-12)
	assert.InDelta(t, 0.5*math.Log(2), p.TFIDF, 1e-12)
}

func TestFromEntriesDropsDuplicates(t *testing.T) {
	m := FromEntries([]TermEntry{
		{Term: "decreto", Postings: PostingList{posting("D1", 1), posting("D1", 2)}},
		{Term: "vacío"},
	})
	assert.Equal(t, []string{"decreto"}, m.Terms())
	assert.Len(t, m.Postings("decreto"), 1)
	assert.Len(t, m.All(), 1)
}

func BenchmarkAdd(b *testing.B) {
	for i := 0; i < b.N; i++ {
		m := NewMemoryIndex()
		for d := 0; d < 100; d++ {
			doc := fmt.Sprintf("D%d", d)
			for t := 0; t < 50; t++ {
				m.Add(fmt.Sprintf("t%d", t), posting(doc, 0.02))
			}
		}
		m.Recompute()
	}
}
