package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apimiddleware "github.com/tsanders-rh/gpuctl/internal/api/middleware"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/events"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/metrics"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/store"
)

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	EnableCORS      bool
	AllowedOrigins  []string
	MaxBodySize     string
	AdminEmails     []string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		EnableCORS:      true,
		AllowedOrigins:  []string{"http://localhost:3000"},
		MaxBodySize:     "1M",
	}
}

// Server represents the HTTP API server
type Server struct {
	echo     *echo.Echo
	config   *ServerConfig
	store    *store.Store
	provider provider.API
	launcher *launch.Service
	verifier auth.TokenVerifier
	events   *events.Publisher
}

// NewServer creates a new API server
func NewServer(
	config *ServerConfig,
	st *store.Store,
	p provider.API,
	launcher *launch.Service,
	verifier auth.TokenVerifier,
	ev *events.Publisher,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Disable Echo's default logger, we'll use our own
	e.Logger.SetOutput(io.Discard)

	// Set custom validator
	e.Validator = NewValidator()

	// Every error body is {"error", "message"}, including middleware errors
	e.HTTPErrorHandler = httpErrorHandler

	s := &Server{
		echo:     e,
		config:   config,
		store:    st,
		provider: p,
		launcher: launcher,
		verifier: verifier,
		events:   ev,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware stack
func (s *Server) setupMiddleware() {
	// Recover from panics
	s.echo.Use(middleware.Recover())

	// Request ID for tracing
	s.echo.Use(middleware.RequestID())

	// Logging middleware
	s.echo.Use(apimiddleware.Logger())

	// CORS if enabled
	if s.config.EnableCORS {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.config.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			AllowCredentials: true,
			ExposeHeaders:    []string{echo.HeaderContentLength},
		}))
	}

	// Body limit
	s.echo.Use(middleware.BodyLimit(s.config.MaxBodySize))

	// Handlers must finish well under the synchronous-path wall clock;
	// anything slower belongs to the reconciler.
	s.echo.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: 10 * time.Second,
	}))
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check (no auth required)
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ready", s.readyCheck)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Loader VM callback (authenticated by the seed-complete secret)
	seedHandler := NewSeedHandler(s.store, s.events)
	s.echo.POST("/api/seed-complete", seedHandler.Complete)

	// Everything else requires a verified candidate
	requireCandidate := auth.RequireCandidate(s.verifier, s.store.Candidates, s.config.AdminEmails)
	api := s.echo.Group("/api", requireCandidate)

	authHandler := NewAuthHandler(s.store)
	api.GET("/auth/me", authHandler.GetMe)

	typesHandler := NewGPUTypesHandler(s.provider)
	api.GET("/gpu-types", typesHandler.List)

	vmHandler := NewVMHandler(s.store, s.provider, s.launcher, s.events)
	api.GET("/vms", vmHandler.List)
	api.POST("/vms/launch", vmHandler.Launch)
	api.POST("/vms/terminate", vmHandler.Terminate)
	api.POST("/vms/restart", vmHandler.Restart)

	fsHandler := NewFilesystemHandler(s.provider)
	api.GET("/filesystems", fsHandler.List)

	lrHandler := NewLaunchRequestHandler(s.store, s.provider, s.launcher)
	api.GET("/launch-requests", lrHandler.List)
	api.POST("/launch-requests", lrHandler.Submit)
	api.POST("/launch-requests/cancel", lrHandler.Cancel)

	// Admin surface
	adminHandler := NewAdminHandler(s.store)
	admin := api.Group("/admin", auth.RequireAdmin())
	admin.GET("/candidates", adminHandler.ListCandidates)
	admin.POST("/candidates", adminHandler.AddCandidate)
	admin.DELETE("/candidates", adminHandler.RemoveCandidate)
	admin.POST("/quota", adminHandler.SetQuota)
	admin.GET("/settings", adminHandler.GetSettings)
	admin.PUT("/settings", adminHandler.PutSettings)
	admin.DELETE("/filesystems", fsHandler.Delete)
}

// healthCheck returns basic health status
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// readyCheck checks if server is ready to handle requests
func (s *Server) readyCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "store unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	fmt.Printf("Starting API server on %s\n", addr)
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for testing
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
