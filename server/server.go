// Package server exposes an inkwell Service over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/poiesic/inkwell"
	"github.com/poiesic/inkwell/config"
)

// Server is the HTTP server for the inkwell API.
type Server struct {
	service *inkwell.Service
	config  *config.Config
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server for an open service.
func NewServer(service *inkwell.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		config:  service.Config(),
		logger:  logger.With("component", "server"),
	}
}

// Handler returns the routed API handler.
func (s *Server) Handler() http.Handler {
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.Post("/reembed", s.handleReembed)
		r.Get("/documents", s.handleListDocuments)
		r.Post("/documents", s.handleCreateDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Put("/documents/{id}", s.handleUpdateDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/documents/{id}/embeddings", s.handleDocumentEmbeddings)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
// A server stopped with Stop returns nil.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
