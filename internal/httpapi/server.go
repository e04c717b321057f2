// Package httpapi is the thin HTTP boundary over the session control surface.
// It maps requests and responses; every state decision stays in pkg/session.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/linkwire-dev/linkwire/pkg/audit"
	"github.com/linkwire-dev/linkwire/pkg/session"
)

// Config configures the API server.
type Config struct {
	Addr         string
	APIKey       string
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Audit receives the audit trail for security-relevant operations.
	// Nil disables auditing.
	Audit audit.Logger
}

// DefaultConfig returns the default API server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server serves the session API.
type Server struct {
	cfg        Config
	svc        *session.Service
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the engine and routes for the given control surface.
func NewServer(svc *session.Service, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, svc: svc}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(Metrics())
	engine.Use(Tracing())
	if cfg.EnableCORS {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Api-Key")
		engine.Use(cors.New(corsCfg))
	}

	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.NewNopLogger()
	}

	h := &handlers{svc: svc}
	authorized := RequireAPIKey(cfg.APIKey)

	api := engine.Group("/api/v1")
	{
		api.POST("/sessions/:id/start", Audited(auditLog, "session.start"), authorized, h.startSession)
		api.GET("/sessions/:id/qr", h.getVisualCode)
		api.POST("/sessions/:id/pair", Audited(auditLog, "session.pair"), authorized, h.requestPairingCode)
		api.GET("/sessions/:id/pair", h.getPairingCode)
		api.GET("/sessions/:id/status", h.getStatus)
		api.GET("/sessions/:id/credential", Audited(auditLog, "credential.export"), authorized, h.exportCredential)
		api.DELETE("/sessions/:id", Audited(auditLog, "session.destroy"), authorized, h.destroySession)
	}

	s.engine = engine
	return s
}

// Engine exposes the gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start runs the API server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts the API server down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
