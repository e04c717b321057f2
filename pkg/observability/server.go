package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ServerConfig configures the observability server. It listens on its own
// port so probes and scrapes stay off the authenticated session API.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c ServerConfig) withDefaults() ServerConfig {
	out := c
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	return out
}

// Server serves the health and metrics endpoints for one checker.
type Server struct {
	cfg        ServerConfig
	checker    *HealthChecker
	httpServer *http.Server
}

// NewServer creates an observability server over the given health checker.
func NewServer(cfg ServerConfig, checker *HealthChecker) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		checker: checker,
	}
}

// Handler builds the observability mux: full health report, kubernetes-style
// liveness and readiness probes, and prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler(s.checker))
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler(s.checker))
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Start runs the observability server until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
