// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/howard-nolan/chatgateway/internal/chat"
	"github.com/howard-nolan/chatgateway/internal/config"
)

// Sender is the slice of the orchestrator the handlers need.
// Implemented by *chat.Orchestrator; tests substitute fakes.
type Sender interface {
	SendMessage(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// Server holds the router and the per-backend orchestrators.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	senders map[string]Sender
	log     zerolog.Logger
}

// New creates a Server with routes wired, ready to use as an http.Handler.
func New(cfg *config.Config, senders map[string]Sender, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		senders: senders,
		log:     log.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/v1/chat", s.handleChat)

	s.router = r
}

// requestLogger emits one structured log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// ServeHTTP makes Server satisfy http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
