// Package handler accepts decree files over HTTP and reports where each
// document stands in the ingestion pipeline.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/logger"
)

// Tracker answers whether a document has reached a pipeline stage.
type Tracker interface {
	Contains(id string) bool
}

// TrackerFunc adapts a predicate such as Store.HasDocument to Tracker.
type TrackerFunc func(id string) bool

func (f TrackerFunc) Contains(id string) bool { return f(id) }

type Config struct {
	Dir       string
	Extension string
	MaxBytes  int64
	// Trigger asks the crawler for an early scan. Optional.
	Trigger func()
}

// Stages reports progress per document. Indexed and Embedded are optional.
type Stages struct {
	Processed Tracker
	Indexed   Tracker
	Embedded  Tracker
}

type Handler struct {
	cfg    Config
	stages Stages
	logger *slog.Logger
}

func New(cfg Config, stages Stages) *Handler {
	return &Handler{
		cfg:    cfg,
		stages: stages,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

type DocumentStatus struct {
	DocumentID  string  `json:"document_id"`
	NumeroNorma *string `json:"numero_norma"`
	Fecha       *string `json:"fecha"`
	Status      string  `json:"status"`
	Indexed     bool    `json:"indexed"`
	Embedded    bool    `json:"embedded"`
}

// Upload stores a multipart "file" in the documents folder. The file appears
// there under its final name only once fully written. A document already in
// the ledger is not overwritten.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	if h.cfg.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBytes+1<<20)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	err = validator.ValidateUpload(validator.Upload{Name: header.Filename, Size: header.Size}, validator.Rules{
		Extension: h.cfg.Extension,
		MaxBytes:  h.cfg.MaxBytes,
	})
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := ingestion.DocumentID(header.Filename)
	if h.stages.Processed.Contains(id) {
		h.writeJSON(w, http.StatusOK, h.status(id))
		return
	}

	if err := h.store(header.Filename, file); err != nil {
		log.Error("storing upload failed", "doc_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	if h.cfg.Trigger != nil {
		h.cfg.Trigger()
	}
	log.Info("document deposited", "doc_id", id, "bytes", header.Size)
	h.writeJSON(w, http.StatusAccepted, h.status(id))
}

// Status reports the pipeline stage of one document.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st := h.status(id)
	if st.Status == "unknown" {
		h.writeJSON(w, http.StatusNotFound, st)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) status(id string) DocumentStatus {
	numero, year := ingestion.ParseDecreeName(id)
	st := DocumentStatus{
		DocumentID:  id,
		NumeroNorma: numero,
		Fecha:       year,
		Indexed:     h.stages.Indexed != nil && h.stages.Indexed.Contains(id),
		Embedded:    h.stages.Embedded != nil && h.stages.Embedded.Contains(id),
	}
	switch {
	case h.stages.Processed.Contains(id):
		st.Status = "processed"
	case h.deposited(id):
		st.Status = "pending"
	default:
		st.Status = "unknown"
	}
	return st
}

func (h *Handler) deposited(id string) bool {
	entries, err := os.ReadDir(h.cfg.Dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && ingestion.DocumentID(e.Name()) == id {
			return true
		}
	}
	return false
}

func (h *Handler) store(name string, src io.Reader) error {
	if err := os.MkdirAll(h.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating documents folder: %w", err)
	}
	// The temp name does not carry the watched extension, so a scan never
	// picks up a partial file.
	tmp, err := os.CreateTemp(h.cfg.Dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing upload: %w", err)
	}
	return os.Rename(tmpPath, filepath.Join(h.cfg.Dir, name))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
