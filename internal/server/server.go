// Package server exposes the sync service over HTTP using gin.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"brokerSync/internal/domain"
	"brokerSync/internal/ports"
	"brokerSync/internal/sync"
)

// SyncService is the part of the sync orchestrator the HTTP layer needs.
type SyncService interface {
	SyncTrades(ctx context.Context, userID, brokerName string, opts ports.FetchOptions) *sync.Result
	GetUserTrades(ctx context.Context, userID string, filter domain.TradeFilter) ([]*domain.Trade, error)
	Brokers() []string
}

// Config holds the HTTP server dependencies.
type Config struct {
	Addr   string
	Sync   SyncService
	Users  ports.UserStore
	Logger ports.Logger
}

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	cfg    Config
	engine *gin.Engine
	http   *http.Server
}

// New builds the router and registers all routes.
func New(cfg Config) (*Server, error) {
	if cfg.Sync == nil || cfg.Users == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for http server")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		engine: engine,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.engine.Use(s.requestLogger())

	s.engine.GET("/", s.handleRoot)
	api := s.engine.Group("/api")
	{
		api.POST("/sync", s.handleSync)
		api.GET("/trades/:userId", s.handleGetTrades)
		api.POST("/user/connect", s.handleConnectBroker)
		api.GET("/user/:userId", s.handleGetUser)
	}
	return s, nil
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	s.cfg.Logger.Info(context.Background(), "HTTP server listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs each request through the application logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Logger.Debug(c.Request.Context(), "HTTP request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "broker trade sync",
		"status":  "ok",
		"brokers": s.cfg.Sync.Brokers(),
	})
}
