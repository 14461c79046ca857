// Package api provides the REST API server for the sandbox lifecycle service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v0 "github.com/sandkit/sandboxd/internal/api/v0"
	"github.com/sandkit/sandboxd/internal/lifecycle"
	"github.com/sandkit/sandboxd/internal/project"
	"github.com/sandkit/sandboxd/internal/runtime"
	"github.com/sandkit/sandboxd/internal/status"
)

// ServerOption configures the lifecycle API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates and configures the HTTP router with the given dependencies
// and options
func NewServer(
	projects project.Provider,
	orch lifecycle.Orchestrator,
	rt runtime.Client,
	store status.Store,
	opts ...ServerOption,
) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// Health check routes live directly at root
	r.Mount("/", v0.HealthRouter(rt, store))

	// Lifecycle API
	r.Mount("/api/v0", v0.Router(projects, orch, rt))

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
