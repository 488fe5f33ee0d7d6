// Package extract turns deposited decree files into plain text. Scanned
// decrees go through an external OCR service; born-digital PDFs are read
// from their text layer.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
)

// Result is the text of one document and its page count.
type Result struct {
	Text  string
	Pages int
}

// Empty reports whether the extraction produced no usable text.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

type Extractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// Chain tries each extractor in order and returns the first non-empty
// result. Errors are logged and the next extractor is tried; if none yields
// text, the last error (or an empty result) is returned.
type Chain []Extractor

func (c Chain) Extract(ctx context.Context, path string) (Result, error) {
	var (
		last    Result
		lastErr error
	)
	for _, e := range c {
		res, err := e.Extract(ctx, path)
		if err != nil {
			slog.Default().With("component", "extract").Debug("extractor failed, trying next",
				"path", path,
				"error", err,
			)
			lastErr = err
			continue
		}
		if !res.Empty() {
			return res, nil
		}
		last, lastErr = res, nil
	}
	return last, lastErr
}

// New builds the extractor selected by cfg.Mode.
func New(cfg config.OCRConfig, breaker *resilience.CircuitBreaker) (Extractor, error) {
	switch cfg.Mode {
	case "pdf":
		return PDFText{}, nil
	case "service":
		return NewService(cfg.ServiceURL, cfg.Timeout, breaker), nil
	case "chain":
		return Chain{PDFText{}, NewService(cfg.ServiceURL, cfg.Timeout, breaker)}, nil
	default:
		return nil, fmt.Errorf("unknown ocr mode %q", cfg.Mode)
	}
}
