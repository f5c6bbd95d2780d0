// Package api exposes the coordinator over HTTP: job submission and queries
// for consumers, stake administration behind JWT auth, and a websocket feed
// of core events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/gridmesh/gridmesh/config"
	"github.com/gridmesh/gridmesh/coordinator"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// Server serves the coordinator API.
type Server struct {
	config   config.APIConfig
	coord    *coordinator.Coordinator
	log      *logger.Logger
	router   *gin.Engine
	server   *http.Server
	limiter  *rate.Limiter
	auth     *authService
	upgrader websocket.Upgrader

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewServer builds the API server around a running coordinator.
func NewServer(cfg config.APIConfig, coord *coordinator.Coordinator, log *logger.Logger, reg prometheus.Registerer) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	factory := promauto.With(reg)
	s := &Server{
		config:  cfg,
		coord:   coord,
		log:     log,
		router:  router,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit*2),
		auth:    newAuthService(cfg.JWTSecret, 24*time.Hour),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.CORSOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridmesh_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridmesh_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) setupMiddleware() {
	s.router.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && originAllowed(s.config.CORSOrigins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.router.Use(func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	})

	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		s.log.Info("API request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)

		s.requestsTotal.WithLabelValues(c.Request.Method, path, fmt.Sprintf("%d", status)).Inc()
		s.requestDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
	})

	s.router.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.Timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/version", s.handleVersion)

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", s.handleSubmitJob)
			jobs.GET("", s.handleListJobs)
			jobs.GET("/:id", s.handleGetJob)
			jobs.GET("/:id/assignments", s.handleGetAssignments)
			jobs.GET("/:id/settlement", s.handleGetSettlement)
			jobs.DELETE("/:id", s.handleCancelJob)
		}

		workers := v1.Group("/workers")
		{
			workers.GET("", s.handleListWorkers)
			workers.GET("/:id", s.handleGetWorker)
			workers.GET("/:id/stake", s.handleGetStake)
			workers.GET("/:id/slashes", s.handleGetSlashes)
		}

		// Stake mutations are operator actions and require a token.
		admin := v1.Group("/admin", s.auth.Middleware())
		{
			admin.POST("/workers/:id/stake", s.handleStake)
			admin.POST("/workers/:id/unstake", s.handleRequestUnstake)
			admin.POST("/workers/:id/unstake/finalize", s.handleFinalizeUnstake)
			admin.POST("/workers/:id/slash", s.handleSlash)
		}
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start serves until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.log.Info("Starting API server", "address", addr)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
