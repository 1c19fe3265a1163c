// Package api is the ops HTTP surface of the gateway: inspection and control
// of the nonce source, circuit breaker, and balance cache. It replaces the
// ad hoc emergency scripts the gateway grew out of with ordinary,
// authenticated endpoints.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"kraken-gateway/config"
	"kraken-gateway/internal/auth"
	"kraken-gateway/internal/balance"
	"kraken-gateway/internal/circuit"
	"kraken-gateway/internal/database"
	"kraken-gateway/internal/kraken"
	"kraken-gateway/internal/logging"
	"kraken-gateway/internal/nonce"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Deps are the gateway components the API exposes. History is optional and
// may be nil when the database is disabled.
type Deps struct {
	Nonces  *nonce.Source
	Breaker *circuit.Breaker
	Balance *balance.Cache
	Kraken  *kraken.Client
	History *database.Repository
}

// Server is the ops HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig
	authMgr    *auth.Manager
	deps       Deps
	logger     *logging.Logger
}

// NewServer creates the ops API server. authMgr may be nil when auth is
// disabled.
func NewServer(cfg config.ServerConfig, authMgr *auth.Manager, deps Deps, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default().WithComponent("api")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		config:  cfg,
		authMgr: authMgr,
		deps:    deps,
		logger:  logger,
	}

	router.Use(s.requestIDMiddleware())
	s.registerRoutes()

	return s
}

// requestIDMiddleware tags each request with a trace id for log correlation
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// authMiddleware validates the bearer token when auth is enabled
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authMgr == nil {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := s.authMgr.ValidateToken(header[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("role", claims.Role)
		c.Next()
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)

	protected := s.router.Group("/api", s.authMiddleware())
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/nonce", s.handleNonce)
		protected.GET("/breaker", s.handleBreaker)
		protected.POST("/breaker/reset", s.handleBreakerReset)
		protected.GET("/balance", s.handleBalanceSnapshot)
		protected.GET("/balance/:asset", s.handleBalance)
		protected.POST("/balance/invalidate", s.handleBalanceInvalidate)
		protected.GET("/history/balances", s.handleBalanceHistory)
	}
}

// Start runs the HTTP server; it returns when the server stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("ops API listening", "port", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}
