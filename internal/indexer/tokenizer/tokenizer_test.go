package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"stopwords dropped", "El decreto de la alcaldía", []string{"decreto", "alcaldía"}},
		{"punctuation deleted", "Decreto, sección: ¡urgente!", []string{"decreto", "sección", "urgente"}},
		{"diacritics kept", "ALCALDÍA Alcaldia", []string{"alcaldía", "alcaldia"}},
		{"digits kept", "Decreto 1234 del 2023", []string{"decreto", "1234", "2023"}},
		{"single letters dropped", "x y z b decreto", []string{"decreto"}},
		{"internal punctuation joins", "N°123 art.5", []string{"n123", "art5"}},
		{"whitespace variants", "permiso\tde\nconstrucción", []string{"permiso", "construcción"}},
		{"only stopwords", "de la que el en", []string{}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, terms(Tokenize(tt.in)))
		})
	}
}

func TestTokenPositionsAreContiguous(t *testing.T) {
	tokens := Tokenize("el permiso de construcción del municipio")
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Position)
	}
}

func TestAnalyzeCountsRemoved(t *testing.T) {
	a := Analyze("El permiso de la construcción y el permiso")
	assert.Equal(t, 3, a.Kept())
	assert.Equal(t, 5, a.Removed)
	assert.Equal(t, map[string]int{"permiso": 2, "construcción": 1}, a.Counts())
}

func TestTermsDeduplicatesInOrder(t *testing.T) {
	assert.Equal(t, []string{"permiso", "construcción"}, Terms("permiso construcción permiso"))
	assert.Empty(t, Terms("de la"))
}

func TestIsStopword(t *testing.T) {
	for _, w := range []string{"de", "la", "estuviésemos", "tened", "a", "q", "z"} {
		assert.True(t, IsStopword(w), w)
	}
	for _, w := range []string{"decreto", "alcaldía", "ñ", "1"} {
		assert.False(t, IsStopword(w), w)
	}
}

func BenchmarkTokenize(b *testing.B) {
	text := strings.Repeat("Por medio del presente decreto se otorga el permiso de construcción a la Municipalidad. ", 200)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Tokenize(text)
	}
}
