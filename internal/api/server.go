// Package api serves the derived rows over HTTP and lets operators
// trigger a fresh derivation batch.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/trajectory-deriver/internal/runner"
	"github.com/tjfontaine/trajectory-deriver/internal/storage"
)

// BatchFunc runs one derivation batch over the configured data directory.
type BatchFunc func(ctx context.Context) (*runner.BatchReport, error)

type Server struct {
	Router *chi.Mux
	Port   int

	store    storage.DerivedStore
	runBatch BatchFunc
	logger   *slog.Logger
}

// New wires the router. runBatch may be nil, which disables POST /derive.
func New(port int, store storage.DerivedStore, runBatch BatchFunc, logger *slog.Logger) *Server {
	s := &Server{
		Router:   chi.NewRouter(),
		Port:     port,
		store:    store,
		runBatch: runBatch,
		logger:   logger,
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "trajectory-deriver")
	})

	r.Get("/healthz", s.handleHealth)
	r.Post("/derive", s.handleDerive)
	r.Get("/sessions", s.handleListSessions)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Get("/turns", s.handleListTurns)
		r.Get("/spans", s.handleListModelSpans)
		r.Get("/tools", s.handleListToolIntervals)
		r.Get("/errors", s.handleListErrors)
		r.Get("/diagnostics", s.handleListDiagnostics)
	})

	return s
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}
