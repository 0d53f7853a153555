// Package http provides the HTTP adapter for the approval engine. It is a
// thin layer translating requests into application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procurio/approval-engine/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config          ServerConfig
	httpServer      *http.Server
	router          *gin.Engine
	approvalService service.ApprovalService
	matrixService   service.MatrixService
	auditService    service.AuditService
	exportService   service.ExportService
	logger          Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	approvalService service.ApprovalService,
	matrixService service.MatrixService,
	auditService service.AuditService,
	exportService service.ExportService,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:          config,
		router:          router,
		approvalService: approvalService,
		matrixService:   matrixService,
		auditService:    auditService,
		exportService:   exportService,
		logger:          logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.approvalService, s.matrixService, s.auditService, s.exportService, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api")
	{
		// Workflows
		api.POST("/workflows", handlers.SubmitWorkflow)
		api.GET("/workflows/:id", handlers.GetWorkflow)
		api.POST("/workflows/:id/decision", handlers.RecordDecision)
		api.POST("/workflows/:id/override", handlers.RequestOverride)
		api.GET("/workflows/status/:category/:reference_id", handlers.GetWorkflowStatus)
		api.GET("/workflows/pending", handlers.ListPendingWorkflows)

		// Matrix administration
		api.GET("/matrix/roles", handlers.ListRoles)
		api.POST("/matrix/roles", handlers.CreateRole)
		api.PUT("/matrix/roles/:id", handlers.UpdateRole)
		api.DELETE("/matrix/roles/:id", handlers.DeactivateRole)
		api.GET("/matrix/rules", handlers.ListRules)
		api.POST("/matrix/rules", handlers.SaveRule)
		api.DELETE("/matrix/rules/:id", handlers.DeactivateRule)
		api.GET("/matrix/overrides", handlers.ListOverrides)
		api.POST("/matrix/overrides", handlers.SaveOverride)
		api.DELETE("/matrix/overrides/:id", handlers.DeactivateOverride)
		api.GET("/matrix/versions", handlers.ListVersions)

		// Export / import
		api.GET("/matrix/export", handlers.ExportMatrix)
		api.POST("/matrix/import", handlers.ImportMatrix)
		api.GET("/matrix/export/xlsx", handlers.ExportMatrixWorkbook)

		// Audit trail
		api.GET("/audit", handlers.ListAuditLogs)
		api.GET("/audit/:entity_type/:entity_id", handlers.EntityHistory)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
