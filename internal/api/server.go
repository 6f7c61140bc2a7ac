// Package api exposes the HTTP decision surface consulted by host
// runtimes that integrate over HTTP instead of SIP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plugandtel/callpolicy/internal/api/middleware"
	"github.com/plugandtel/callpolicy/internal/config"
	"github.com/plugandtel/callpolicy/internal/policy"
)

// Decider runs the decision pipeline for one call-setup event.
type Decider interface {
	Decide(ctx context.Context, ev policy.Event) (*policy.Decision, error)
}

// ReloadFunc rebuilds and validates a complete configuration snapshot.
type ReloadFunc func() (*config.Config, error)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	pipeline Decider
	holder   *config.Holder
	reload   ReloadFunc
	secret   []byte
}

// NewServer creates the HTTP handler with all routes mounted. gatherer
// may be nil to disable the /metrics endpoint.
func NewServer(
	pipeline Decider,
	holder *config.Holder,
	reload ReloadFunc,
	secret []byte,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		pipeline: pipeline,
		holder:   holder,
		reload:   reload,
		secret:   secret,
	}

	s.routes(gatherer)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes(gatherer prometheus.Gatherer) {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	limiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	r.Use(middleware.RateLimit(limiter))

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Decision endpoints require a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.secret))
			r.Post("/decide", s.handleDecide)
			r.Post("/reload", s.handleReload)
		})
	})
}
