// Package server provides the HTTP API for Nyaya.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/nyaya/internal/config"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/pipeline"
	"go.uber.org/zap"
)

// Engine is the query engine the server fronts. *pipeline.Engine satisfies it.
type Engine interface {
	Answer(ctx context.Context, q models.Query) models.LegalResponse
	StartSession(ctx context.Context, lang string) (string, error)
	EndSession(ctx context.Context, id string) error
	History(ctx context.Context, id string) ([]models.Turn, error)
	Health() pipeline.HealthReport
}

// Server is the HTTP server for the Nyaya API.
type Server struct {
	engine  Engine
	metrics http.Handler
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. metrics may be nil, in which case
// /metrics is not mounted.
func NewServer(engine Engine, metrics http.Handler, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		metrics: metrics,
		config:  cfg,
		logger:  logger,
	}
}

// Handler returns the router with every API route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/answer", s.handleAnswer)
		r.Post("/sessions", s.handleStartSession)
		r.Delete("/sessions/{id}", s.handleEndSession)
		r.Get("/sessions/{id}/history", s.handleHistory)
	})
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
