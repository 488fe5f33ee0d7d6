package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
)

const insertPosting = `
INSERT INTO term_postings (term, documento, numero_norma, tf, idf, tf_idf, fecha, estado)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (term, documento) DO NOTHING`

const selectPostings = `
SELECT documento, numero_norma, tf, idf, tf_idf, fecha, estado
FROM term_postings
WHERE term = $1
ORDER BY created_at, documento`

// Postgres mirrors postings into the term_postings table.
type Postgres struct {
	client *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewPostgres applies the schema and returns the mirror.
func NewPostgres(ctx context.Context, client *postgres.Client) (*Postgres, error) {
	if err := client.Migrate(ctx); err != nil {
		return nil, err
	}
	return &Postgres{
		client: client,
		retry:  resilience.RetryConfig{MaxAttempts: 3},
		logger: slog.Default().With("component", "mirror"),
	}, nil
}

func (m *Postgres) Upsert(ctx context.Context, term string, p index.Posting) error {
	return m.UpsertAll(ctx, []index.TermPosting{{Term: term, Posting: p}})
}

// UpsertAll writes all postings in one transaction, retried with backoff.
func (m *Postgres) UpsertAll(ctx context.Context, postings []index.TermPosting) error {
	if len(postings) == 0 {
		return nil
	}
	err := resilience.Retry(ctx, "mirror-upsert", m.retry, func() error {
		return m.client.InTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertPosting)
			if err != nil {
				return fmt.Errorf("preparing insert: %w", err)
			}
			defer stmt.Close()
			for _, tp := range postings {
				p := tp.Posting
				if p.Documento == "" {
					continue
				}
				if _, err := stmt.ExecContext(ctx,
					tp.Term, p.Documento, p.NumeroNorma, p.TF, p.IDF, p.TFIDF, p.Fecha, estado(p),
				); err != nil {
					return fmt.Errorf("inserting posting (%s, %s): %w", tp.Term, p.Documento, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrMirrorUnavailable, err)
	}
	m.logger.Debug("postings mirrored", "count", len(postings))
	return nil
}

// Find reads the postings of term. Rows with an empty document ID are
// skipped and NULL numeric columns read as zero.
func (m *Postgres) Find(ctx context.Context, term string) (index.PostingList, error) {
	rows, err := m.client.DB.QueryContext(ctx, selectPostings, term)
	if err != nil {
		return nil, fmt.Errorf("%w: querying postings for %q: %w", apperrors.ErrMirrorUnavailable, term, err)
	}
	defer rows.Close()

	var list index.PostingList
	for rows.Next() {
		var (
			r             row
			numero, fecha sql.NullString
		)
		if err := rows.Scan(&r.documento, &numero, &r.tf, &r.idf, &r.tfidf, &fecha, &r.estado); err != nil {
			return nil, fmt.Errorf("scanning posting row: %w", err)
		}
		if numero.Valid {
			r.numero = &numero.String
		}
		if fecha.Valid {
			r.fecha = &fecha.String
		}
		if p, ok := r.posting(); ok {
			list = append(list, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating posting rows: %w", err)
	}
	return list, nil
}

func (m *Postgres) Ping(ctx context.Context) error {
	return m.client.Ping(ctx)
}

func (m *Postgres) Close() error {
	return m.client.Close()
}

type row struct {
	documento      string
	numero, fecha  *string
	tf, idf, tfidf sql.NullFloat64
	estado         sql.NullString
}

func (r row) posting() (index.Posting, bool) {
	if r.documento == "" {
		return index.Posting{}, false
	}
	p := index.Posting{
		Documento:   r.documento,
		NumeroNorma: r.numero,
		TF:          r.tf.Float64,
		IDF:         r.idf.Float64,
		TFIDF:       r.tfidf.Float64,
		Fecha:       r.fecha,
		Estado:      r.estado.String,
	}
	if p.Estado == "" {
		p.Estado = index.EstadoActivo
	}
	return p, true
}

func estado(p index.Posting) string {
	if p.Estado == "" {
		return index.EstadoActivo
	}
	return p.Estado
}
