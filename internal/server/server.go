// Package server exposes the websocket endpoint, health and metrics over gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/common/config"
	"github.com/amoylab/chatmesh/pkg/metrics"
)

// Health reports the state of this instance for /healthz
type Health interface {
	InstanceID() string
	OpenConnections() int
	SubscribedRooms() []int64
	Ping(ctx context.Context) error
}

// Server is the HTTP front of one chat instance
type Server struct {
	logger  *zap.Logger
	cfg     *config.ChatMeshConfig
	router  *gin.Engine
	http    *http.Server
	health  Health
	metrics *metrics.Metrics
}

// NewServer creates the server and registers its routes
func NewServer(logger *zap.Logger, cfg *config.ChatMeshConfig, ws gin.HandlerFunc, health Health, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		logger:  logger.Named("server"),
		cfg:     cfg,
		router:  gin.New(),
		health:  health,
		metrics: m,
	}
	s.registerRoutes(ws)
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.router,
	}
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(ws gin.HandlerFunc) {
	s.router.Use(s.loggerMiddleware())
	s.router.Use(s.recoveryMiddleware())
	if s.cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware(s.cfg.Tracing.ServiceName))
	}
	if len(s.cfg.CORS.AllowOrigins) > 0 {
		s.router.Use(s.corsMiddleware())
	}
	if s.cfg.Metrics.Enabled && s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET(s.cfg.Server.WSPath, ws)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":          "ok",
		"instanceId":      s.health.InstanceID(),
		"openConnections": s.health.OpenConnections(),
		"subscribedRooms": s.health.SubscribedRooms(),
	}
	if err := s.health.Ping(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting http server",
		zap.String("addr", s.http.Addr),
		zap.String("ws_path", s.cfg.Server.WSPath))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. Hijacked websocket connections
// are not tracked by net/http and must be closed by their owner.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Lang"},
		AllowCredentials: s.cfg.CORS.AllowCredentials,
		MaxAge:           s.cfg.CORS.MaxAge,
	}
	for _, o := range s.cfg.CORS.AllowOrigins {
		if o == "*" {
			cc.AllowAllOrigins = true
			cc.AllowCredentials = false
			return cors.New(cc)
		}
	}
	cc.AllowOrigins = s.cfg.CORS.AllowOrigins
	return cors.New(cc)
}
