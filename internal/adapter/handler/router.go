package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/haishop/catalog/internal/metrics"
)

// NewRouter wires the API routes with request logging and metrics middleware.
func NewRouter(h *HTTPHandler, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			duration := time.Since(start)
			routePath := req.URL.Path
			if rctx := chi.RouteContext(req.Context()); rctx != nil && rctx.RoutePattern() != "" {
				routePath = rctx.RoutePattern()
			}

			metrics.HTTPRequestsTotal.WithLabelValues(
				req.Method, routePath, http.StatusText(ww.Status()),
			).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(
				req.Method, routePath,
			).Observe(duration.Seconds())

			logger.Info("HTTP request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", duration),
				zap.String("remote_addr", req.RemoteAddr))
		})
	})

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/batch-reserve", h.BatchReserve)
			r.Get("/{productID}", h.GetStock)
			r.Post("/{productID}/reserve", h.Reserve)
			r.Post("/{productID}/release", h.Release)
			r.Post("/{productID}/confirm", h.Confirm)
		})
		r.Route("/products", func(r chi.Router) {
			r.Post("/", h.CreateProduct)
			r.Get("/", h.ListProducts)
			r.Get("/{productID}", h.GetProduct)
			r.Put("/{productID}", h.UpdateProduct)
		})
		r.Route("/categories", func(r chi.Router) {
			r.Post("/", h.CreateCategory)
			r.Get("/", h.ListCategories)
		})
	})

	return r
}
