package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
)

// Service posts the file to an OCR HTTP service as multipart field "file"
// and expects {"text": "...", "pages": n} back.
type Service struct {
	url     string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// NewService returns a client for url. A nil breaker gets a default one.
func NewService(url string, timeout time.Duration, breaker *resilience.CircuitBreaker) *Service {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("ocr", resilience.CircuitBreakerConfig{})
	}
	return &Service{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

type serviceResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

func (s *Service) Extract(ctx context.Context, path string) (Result, error) {
	body, contentType, err := multipartFile(path)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = s.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return resilience.Permanent(fmt.Errorf("building ocr request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("calling ocr service: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
			if resp.StatusCode < 500 {
				return resilience.Permanent(err)
			}
			return err
		}
		var out serviceResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding ocr response: %w", err)
		}
		res = Result{Text: out.Text, Pages: out.Pages}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func multipartFile(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copying %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
