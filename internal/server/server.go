package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/idanyas/speedcheck/internal/config"
)

// Server serves the probe endpoints under /api.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	logger     *zap.Logger
	random     io.Reader
	started    time.Time
}

type Option func(*Server)

// WithRandom replaces the random source used for download payloads.
func WithRandom(r io.Reader) Option {
	return func(s *Server) { s.random = r }
}

func New(cfg config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:  cfg,
		logger:  logger,
		random:  rand.Reader,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(RequestID())
	router.Use(Logger(s.logger))
	router.Use(Recovery(s.logger))
	router.Use(CORS(s.config.CORSOrigin))
	if s.config.RateLimit > 0 {
		router.Use(RateLimit(NewRateLimiter(s.config.RateLimit, s.config.RateBurst)))
	}

	api := router.Group("/api")
	{
		api.GET("/health", s.health)
		api.GET("/ping", s.ping)
		api.GET("/download", s.download)
		api.POST("/upload", s.upload)
		api.POST("/upload-raw", s.uploadRaw)
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "Endpoint not found")
	})
	router.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router = router
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("starting probe server",
		zap.String("listen", s.httpServer.Addr),
		zap.String("cors_origin", s.config.CORSOrigin))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down probe server")
	return s.httpServer.Shutdown(ctx)
}
