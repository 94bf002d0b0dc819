package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/abramin/upstream/internal/workspace"
)

// Server is the upstream HTTP server. It relays user intents to the
// workspace and returns the resulting view of the forest.
type Server struct {
	ws         *workspace.Workspace
	router     *gin.Engine
	httpServer *http.Server
	port       int
	logger     *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Port   int
	Debug  bool // log every request through gin
	Logger *slog.Logger
}

// New creates a new server instance.
func New(ws *workspace.Workspace, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("upstream"))
	router.Use(instrument())
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	s := &Server{
		ws:     ws,
		router: router,
		port:   cfg.Port,
		logger: logger,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Searches stream into the forest and may take minutes.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(cors())
	api.OPTIONS("/*path", func(c *gin.Context) {})

	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/history", s.handleHistory)

	api.GET("/trees", s.handleTrees)
	api.DELETE("/trees", s.handleClear)
	api.POST("/search", s.handleSearch)
	api.POST("/prune", s.handlePrune)
	api.POST("/expand-all", s.handleExpandAll)

	nodes := api.Group("/nodes")
	nodes.POST("/check", s.handleCheck)
	nodes.POST("/expand", s.handleExpand)
	nodes.POST("/select", s.handleSelect)
	nodes.POST("/indent", s.handleIndent)
	nodes.POST("/outdent", s.handleOutdent)
	nodes.POST("/move", s.handleMove)
	nodes.POST("/remove", s.handleRemove)

	api.POST("/comments", s.handleAddComment)
	api.PUT("/comments", s.handleEditComment)
	api.DELETE("/comments", s.handleDeleteComment)

	api.GET("/export/json", s.handleExportJSON)
	api.GET("/export/markdown", s.handleExportMarkdown)
	api.POST("/import", s.handleImport)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("url", fmt.Sprintf("http://localhost:%d", s.port)))
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

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// cors adds CORS headers for local development.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
