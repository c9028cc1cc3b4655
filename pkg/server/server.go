package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/server/handlers"
	"github.com/soundprediction/chronograph/pkg/types"
)

// ShutdownTimeout bounds the graceful shutdown of Run.
const ShutdownTimeout = 30 * time.Second

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	router   *gin.Engine
	client   chronograph.Chronograph
	server   *http.Server
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// New creates a new server instance
func New(cfg *config.Config, client chronograph.Chronograph, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// SetGatherer exposes the metrics of g on /metrics. Without one the endpoint
// is not registered.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	if s.config.Server.Mode != "" {
		gin.SetMode(s.config.Server.Mode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(contextMiddleware())
	s.router.Use(loggingMiddleware(s.logger))

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// setupRoutes sets up all the routes
func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client)
	var (
		ingestHandler   *handlers.IngestHandler
		retrieveHandler *handlers.RetrieveHandler
	)
	if s.client != nil {
		ingestHandler = handlers.NewIngestHandler(s.client, s.logger)
		retrieveHandler = handlers.NewRetrieveHandler(s.client, s.client, s.logger)
	}

	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	if s.client == nil {
		return
	}

	v1 := s.router.Group("/api/v1")
	{
		episodes := v1.Group("/episodes")
		{
			episodes.POST("", ingestHandler.AddEpisode)
			episodes.POST("/bulk", ingestHandler.AddEpisodes)
			episodes.GET("/:group_id", ingestHandler.GetEpisodes)
			episodes.GET("/:group_id/:uuid", ingestHandler.GetEpisode)
		}

		v1.POST("/search", retrieveHandler.Search)

		v1.POST("/communities/:group_id", retrieveHandler.BuildCommunities)
		v1.GET("/communities/:group_id", retrieveHandler.GetCommunities)
	}
}

// Handler returns the configured router. Setup must have been called.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.server.Shutdown(ctx)
}

// Run serves until ctx is done, then shuts down gracefully, letting in-flight
// requests finish within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

// contextMiddleware attaches the request ID and source to the request
// context.
func contextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, types.ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, types.ContextKeyRequestSource, "http")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// loggingMiddleware logs one line per request.
func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.Writer.Header().Get(RequestIDHeader))
	}
}
