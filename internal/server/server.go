// Package server exposes the advisory engine over HTTP: strategy
// lifecycle, decision checkpoint, trace evaluation, and ranking.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Config holds server configuration.
type Config struct {
	Addr    string
	Log     zerolog.Logger
	Handler *Handler
}

// Server is the HTTP front of the advisory engine.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.Handler)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes(h *Handler) {
	s.router.Get("/health", h.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/strategies", func(r chi.Router) {
			r.Post("/", h.HandlePropose)
			r.Get("/{strategyID}", h.HandleLineage)
			r.Get("/{strategyID}/report", h.HandleReport)
			r.Post("/{strategyID}/versions/{version}/fork", h.HandleFork)
		})

		r.Route("/decisions", func(r chi.Router) {
			r.Post("/", h.HandleProposeDecision)
			r.Post("/{decisionID}/decide", h.HandleDecide)
		})

		r.Route("/traces", func(r chi.Router) {
			r.Get("/{traceID}", h.HandleGetTrace)
			r.Post("/{traceID}/actions", h.HandleAppendAction)
			r.Post("/{traceID}/complete", h.HandleCompleteTrace)
			r.Post("/{traceID}/evaluate", h.HandleEvaluate)
		})

		r.Post("/rank", h.HandleRank)
	})
}

// Router returns the configured handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
