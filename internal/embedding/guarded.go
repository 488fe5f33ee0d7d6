package embedding

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/resilience"
)

// Guarded wraps an Embedder with retries and a circuit breaker. Every
// failure it returns matches apperrors.ErrEmbeddingUnavailable.
type Guarded struct {
	next    Embedder
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

func NewGuarded(next Embedder, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig) *Guarded {
	return &Guarded{next: next, breaker: breaker, retry: retry}
}

func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", apperrors.ErrEmbeddingUnavailable)
	}
	var vec []float32
	err := resilience.Retry(ctx, "embed", g.retry, func() error {
		return g.breaker.Execute(func() error {
			v, err := g.next.Embed(ctx, text)
			if err != nil {
				return err
			}
			if len(v) == 0 {
				return fmt.Errorf("service returned an empty vector")
			}
			vec = v
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrEmbeddingUnavailable, err)
	}
	return vec, nil
}

// State exposes the breaker state for health checks.
func (g *Guarded) State() resilience.State {
	return g.breaker.GetState()
}
