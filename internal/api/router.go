package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"keepwarm/internal/logger"
	"keepwarm/internal/service"
)

// NewRouter creates the chi router and registers the API handlers. gatherer
// may be nil, in which case /metrics is not served.
func NewRouter(svc *service.Service, gatherer prometheus.Gatherer, log *zap.Logger) http.Handler {
	h := NewHandlers(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/urls", func(r chi.Router) {
			r.Get("/", h.ListTargets)
			r.Post("/", h.CreateTarget)
			r.Post("/batch", h.CreateTargetsBatch)
			r.Delete("/{id}", h.DeleteTarget)
			r.Put("/{id}", h.SetTargetActive)
			r.Put("/{id}/edit", h.EditTarget)
		})
		r.Get("/logs", h.ListLogs)
		r.Delete("/logs", h.ClearLogs)
		r.Route("/telegram", func(r chi.Router) {
			r.Get("/status", h.NotifierStatus)
			r.Post("/config", h.SetNotifierConfig)
			r.Post("/clear", h.ClearNotifierConfig)
			r.Post("/enable", h.EnableNotifier)
			r.Post("/disable", h.DisableNotifier)
		})
	})

	return r
}

// requestLogger stores a request-scoped logger in the context and logs each
// request once it completes.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger.WithRequestID(base, middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), l)))

			l.Debug("request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
