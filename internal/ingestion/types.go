// Package ingestion drives one deposited decree through extraction,
// indexing, mirroring, embedding and the ledger commit.
package ingestion

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
)

// decreeName matches names like "Decreto_Nº_1234_del_2023". The number sign
// shows up as º, ° or a plain o depending on who scanned the file.
var decreeName = regexp.MustCompile(`Decreto_N[º°o]_(\d+)_del_(\d{4})`)

// Document is one file under ingestion. Text is transient and never
// persisted.
type Document struct {
	ID    string
	Path  string
	Meta  index.DocumentMeta
	Pages int
	Text  string
}

// DocumentID is the file name without its extension.
func DocumentID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseDecreeName extracts the decree number and year from a file name.
// Both are nil when the name does not follow the convention.
func ParseDecreeName(name string) (numero, year *string) {
	m := decreeName.FindStringSubmatch(name)
	if m == nil {
		return nil, nil
	}
	return &m[1], &m[2]
}

// NewDocument builds the document for path with the given ID and its
// parsed metadata.
func NewDocument(path, id string) Document {
	numero, year := ParseDecreeName(id)
	return Document{
		ID:   id,
		Path: path,
		Meta: index.DocumentMeta{ID: id, NumeroNorma: numero, Fecha: year},
	}
}
