package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecreeName(t *testing.T) {
	tests := []struct {
		name   string
		numero string
		year   string
	}{
		{"Decreto_Nº_1234_del_2023", "1234", "2023"},
		{"Decreto_N°_7_del_1999", "7", "1999"},
		{"Decreto_No_450_del_2021", "450", "2021"},
		{"escaneo_Decreto_Nº_88_del_2010_final", "88", "2010"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			numero, year := ParseDecreeName(tt.name)
			require.NotNil(t, numero)
			require.NotNil(t, year)
			assert.Equal(t, tt.numero, *numero)
			assert.Equal(t, tt.year, *year)
		})
	}
}

func TestParseDecreeNameNoMatch(t *testing.T) {
	for _, name := range []string{"acta_2023", "Decreto_1234_del_2023", "Decreto_Nº_12_del_23"} {
		numero, year := ParseDecreeName(name)
		assert.Nil(t, numero, name)
		assert.Nil(t, year, name)
	}
}

func TestNewDocument(t *testing.T) {
	path := "/data/decretos/Decreto_Nº_5_del_2001.PDF"
	doc := NewDocument(path, DocumentID(path))
	assert.Equal(t, "Decreto_Nº_5_del_2001", doc.ID)
	assert.Equal(t, doc.ID, doc.Meta.ID)
	require.NotNil(t, doc.Meta.NumeroNorma)
	assert.Equal(t, "5", *doc.Meta.NumeroNorma)
	assert.Equal(t, "2001", *doc.Meta.Fecha)
}
