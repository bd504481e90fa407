// Package web serves the matching HTTP API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/queue"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
	"github.com/opensupplyhub/dedupe-hub/internal/web/handlers"
	"github.com/opensupplyhub/dedupe-hub/internal/web/middleware"
)

// Deps are the services the API is built on
type Deps struct {
	Store   store.Store
	Matcher handlers.Matcher
	Cache   *gazetteer.Cache
	// Queue is optional
	Queue *queue.Queue
}

// Server represents the web server
type Server struct {
	config     Config
	deps       Deps
	log        zerolog.Logger
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a new web server instance
func NewServer(config Config, deps Deps, log zerolog.Logger) *Server {
	server := &Server{
		config: config,
		deps:   deps,
		log:    log.With().Str("component", "web").Logger(),
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	matchHandler := &handlers.MatchHandler{Matcher: s.deps.Matcher, Runs: s.deps.Store}
	healthHandler := &handlers.HealthHandler{Store: s.deps.Store}
	if s.deps.Queue != nil {
		healthHandler.Queue = s.deps.Queue
		if s.config.EnqueueEnabled {
			matchHandler.Queue = s.deps.Queue
		}
	}
	gazetteerHandler := &handlers.GazetteerHandler{Cache: s.deps.Cache}

	s.router.HandleFunc("/healthz", healthHandler.Healthz).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/match/lists/{id:[0-9]+}", matchHandler.MatchList).Methods("POST")
	api.HandleFunc("/match/items", matchHandler.MatchItems).Methods("POST")
	api.HandleFunc("/match/enqueue", matchHandler.Enqueue).Methods("POST")
	api.HandleFunc("/match/runs/{batch}", matchHandler.GetRun).Methods("GET")

	api.HandleFunc("/gazetteer/status", gazetteerHandler.Status).Methods("GET")
	api.HandleFunc("/gazetteer/rebuild", gazetteerHandler.Rebuild).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})

	s.router.Use(middleware.Recovery(s.log))
	s.router.Use(middleware.RequestLogging(s.log))
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info().Msg("server stopped")
	return nil
}
