package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/analytics"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/decree-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/decree-search/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/decree-search/pkg/middleware"
)

type RouterConfig struct {
	Metrics        *metrics.Metrics
	Health         *health.Checker
	Analytics      *analytics.Handler
	Documents      *ingesthandler.Handler
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter builds the query API.
//
//	GET  /api/v1/search?q=&limit=
//	GET  /api/v1/terms/{term}?source=index|mirror
//	GET  /api/v1/stats
//	GET  /api/v1/analytics
//	GET  /api/v1/cache/stats
//	POST /api/v1/cache/invalidate
//	POST /api/v1/documents
//	GET  /api/v1/documents/{id}
//	GET  /health/live
//	GET  /health/ready
//
// Middleware, outermost first: RequestID, CORS, Metrics, Timeout.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(pkgmw.RequestID)
	r.Use(pkgmw.CORS(cfg.AllowedOrigins))
	r.Use(pkgmw.Metrics(cfg.Metrics))
	if cfg.RequestTimeout > 0 {
		r.Use(pkgmw.Timeout(cfg.RequestTimeout))
	}

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.LiveHandler())
		r.Get("/health/ready", cfg.Health.ReadyHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Get("/terms/{term}", h.Term)
		r.Get("/stats", h.Stats)
		r.Get("/cache/stats", h.CacheStats)
		r.Post("/cache/invalidate", h.CacheInvalidate)
		if cfg.Analytics != nil {
			r.Get("/analytics", cfg.Analytics.Stats)
		}
		if cfg.Documents != nil {
			r.Post("/documents", cfg.Documents.Upload)
			r.Get("/documents/{id}", cfg.Documents.Status)
		}
	})
	return r
}
