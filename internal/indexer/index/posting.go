package index

// Lifecycle values of Posting.Estado. Only active postings take part in
// lexical matching.
const (
	EstadoActivo   = "activo"
	EstadoInactivo = "inactivo"
)

// Posting is the entry for one (term, document) pair. JSON keys match the
// snapshot file and the mirror's column names.
type Posting struct {
	Documento   string  `json:"documento"`
	NumeroNorma *string `json:"numero_norma"`
	TF          float64 `json:"tf"`
	IDF         float64 `json:"idf"`
	TFIDF       float64 `json:"tf_idf"`
	Fecha       *string `json:"fecha"`
	Estado      string  `json:"estado"`
}

// Active reports whether the posting participates in lexical matching. An
// empty status is treated as active.
func (p Posting) Active() bool {
	return p.Estado == "" || p.Estado == EstadoActivo
}

type PostingList []Posting

// TermEntry is one key of the inverted index with its postings.
type TermEntry struct {
	Term     string
	Postings PostingList
}

// TermPosting pairs a posting with its term, the unit written to the mirror.
type TermPosting struct {
	Term    string  `json:"term"`
	Posting Posting `json:"posting"`
}

// DocumentMeta is the per-document metadata copied onto each posting.
type DocumentMeta struct {
	ID          string
	NumeroNorma *string
	Fecha       *string
}
