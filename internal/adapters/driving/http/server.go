package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driving"
	"github.com/shamba-labs/shamba-core/internal/runtime"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger
	metrics    *Metrics

	// Services
	authService   driving.AuthService
	userService   driving.UserService
	recordService driving.RecordService
	syncService   driving.SyncService
	schemas       *runtime.Registry

	// Infrastructure
	taskQueue   driven.TaskQueue // nil in edge mode
	db          Pinger           // record store health check
	redisClient Pinger           // Redis health check (optional)
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	Version        string
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		AllowedOrigins: []string{"*"},
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	authService driving.AuthService,
	userService driving.UserService,
	recordService driving.RecordService,
	syncService driving.SyncService,
	schemas *runtime.Registry,
	taskQueue driven.TaskQueue, // can be nil
	db Pinger,
	redisClient Pinger, // can be nil
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:        http.NewServeMux(),
		version:       cfg.Version,
		logger:        logger,
		metrics:       NewMetrics(),
		authService:   authService,
		userService:   userService,
		recordService: recordService,
		syncService:   syncService,
		schemas:       schemas,
		taskQueue:     taskQueue,
		db:            db,
		redisClient:   redisClient,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.buildHandler(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// buildHandler registers the routes and stacks the global middleware chain.
// Auth stays per-route so public endpoints skip it entirely.
func (s *Server) buildHandler(cfg Config) http.Handler {
	s.setupRoutes()

	var handler http.Handler = s.router
	handler = NewGzipMiddleware(0).Handler(handler)
	handler = NewLoggingMiddleware(s.logger).Handler(handler)
	handler = s.metrics.Instrument(s.router, handler)
	handler = NewCORSMiddleware(cfg.AllowedOrigins).Handler(handler)
	handler = NewRecoveryMiddleware(s.logger).Handler(handler)
	return handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Create middleware
	authMiddleware := NewAuthMiddleware(s.authService)

	// Ops endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.HandleFunc("GET /openapi.json", s.handleOpenAPI)
	s.router.Handle("GET /metrics", s.metrics.Handler())

	// Auth endpoints (public)
	s.router.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	s.router.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)

	// Setup endpoint (public, one-time use)
	s.router.HandleFunc("POST /api/v1/setup", s.handleSetup)

	// Auth endpoints (authenticated)
	s.router.Handle("POST /api/v1/auth/logout",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleLogout)))
	s.router.Handle("GET /api/v1/auth/me",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetMe)))
	s.router.Handle("POST /api/v1/auth/password",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleChangePassword)))

	// User management
	s.router.Handle("GET /api/v1/users",
		authMiddleware.Authenticate(
			authMiddleware.RequireRole(domain.RoleAdmin, domain.RoleAgent)(
				http.HandlerFunc(s.handleListUsers))))
	s.router.Handle("POST /api/v1/users",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handleCreateUser))))
	s.router.Handle("GET /api/v1/users/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetUser)))
	s.router.Handle("PUT /api/v1/users/{id}",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handleUpdateUser))))
	s.router.Handle("DELETE /api/v1/users/{id}",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handleDeleteUser))))

	// Sync endpoints (authenticated)
	s.router.Handle("POST /api/v1/sync",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSyncBatch)))
	s.router.Handle("GET /api/v1/sync/conflicts",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListConflicts)))
	s.router.Handle("POST /api/v1/sync/resolve",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleResolveConflict)))
	s.router.Handle("GET /api/v1/sync/logs",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListSyncLogs)))
	s.router.Handle("GET /api/v1/sync/logs/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetSyncLog)))
	s.router.Handle("GET /api/v1/sync/devices",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListDevices)))

	// Record endpoints (authenticated)
	s.router.Handle("POST /api/v1/records/{entity}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleCreateRecord)))
	s.router.Handle("GET /api/v1/records/{entity}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListRecords)))
	s.router.Handle("GET /api/v1/records/{entity}/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetRecord)))
	s.router.Handle("PUT /api/v1/records/{entity}/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleUpdateRecord)))
	s.router.Handle("DELETE /api/v1/records/{entity}/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleDeleteRecord)))

	// Schema endpoints (admin-only for mutations)
	s.router.Handle("GET /api/v1/schemas",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListSchemas)))
	s.router.Handle("GET /api/v1/schemas/{entity}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetSchema)))
	s.router.Handle("PUT /api/v1/schemas/{entity}",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handlePutSchema))))
	s.router.Handle("DELETE /api/v1/schemas/{entity}",
		authMiddleware.Authenticate(
			authMiddleware.RequireAdmin(http.HandlerFunc(s.handleDeleteSchema))))

	// Reference data endpoints (public, read-only)
	s.router.HandleFunc("GET /api/v1/reference/countries", s.handleReferenceCountries)
	s.router.HandleFunc("GET /api/v1/reference/crops", s.handleReferenceCrops)
	s.router.HandleFunc("GET /api/v1/reference/languages", s.handleReferenceLanguages)
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	// Channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	<-stop
	s.logger.Info("shutting down server")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
