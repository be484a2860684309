// Package server provides the HTTP API for context assembly.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/config"
	acontext "github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/context"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/metrics"
	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/internal/storage"
)

// Server represents the ctxasm HTTP server.
type Server struct {
	cfg       *config.Config
	assembler *acontext.Assembler
	cache     storage.TokenCache
	logger    *zap.Logger
	router    *gin.Engine
	server    *http.Server
	metrics   *metrics.Metrics
	limiter   *rateLimiter
}

// ServerDeps holds optional dependencies for the server.
type ServerDeps struct {
	// Cache enables the /admin/cache routes.
	Cache   storage.TokenCache
	Metrics *metrics.Metrics
}

// New creates a new HTTP server.
func New(cfg *config.Config, assembler *acontext.Assembler, logger *zap.Logger) *Server {
	return NewWithDeps(cfg, assembler, logger, nil)
}

// NewWithDeps creates a new HTTP server with optional dependencies.
func NewWithDeps(cfg *config.Config, assembler *acontext.Assembler, logger *zap.Logger, deps *ServerDeps) *Server {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		assembler: assembler,
		logger:    logger,
		router:    gin.New(),
	}
	if deps != nil {
		s.cache = deps.Cache
		s.metrics = deps.Metrics
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	if s.cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware("ctxasm"))
	}
	s.router.Use(s.securityHeadersMiddleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())

	s.router.Use(s.rateLimitMiddleware(RateLimitConfig{
		Enabled:           s.cfg.Security.RateLimitRPS > 0,
		RequestsPerSecond: s.cfg.Security.RateLimitRPS,
		BurstSize:         s.cfg.Security.RateLimitRPS * 2,
	}))

	s.router.Use(s.authMiddleware(AuthConfig{
		Enabled: s.cfg.Security.APIKey != "",
		APIKeys: []string{s.cfg.Security.APIKey},
		SkipPaths: []string{
			"/health",
			"/ready",
			"/metrics",
		},
	}))

	s.router.Use(s.bodyLimitMiddleware(s.cfg.Server.MaxRequestBytes))
	s.router.Use(s.timeoutMiddleware())
}

// loggingMiddleware logs requests and records metrics.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		)

		// Route templates keep label cardinality bounded.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(method, route, status, latency.Seconds())
	}
}

// corsMiddleware handles CORS.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, o := range s.cfg.Server.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// timeoutMiddleware adds request timeout.
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Server.RequestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Server.RequestTimeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readyHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/assemble", s.assembleHandler)
		v1.POST("/trim", s.trimHandler)
		v1.POST("/tokens", s.tokensHandler)
	}

	if s.cache != nil {
		admin := s.router.Group("/admin")
		{
			admin.GET("/cache/stats", s.cacheStats)
			admin.DELETE("/cache", s.purgeCache)
			admin.POST("/cache/gc", s.collectCache)
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)

	writeTimeout := 30 * time.Second
	if s.cfg.Server.RequestTimeout > 0 {
		writeTimeout = s.cfg.Server.RequestTimeout + 5*time.Second
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.limiter != nil {
		s.limiter.stop()
		s.limiter = nil
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Gin router (for testing).
func (s *Server) Router() *gin.Engine {
	return s.router
}
