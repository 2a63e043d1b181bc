// Package api exposes the session control surface over
// HTTP: start/query/approve/reject/cancel a pipeline session, resolve a
// pending risk-monitor alert, and read the account/position/watch-list
// snapshot.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/coordinator"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
	"github.com/yoonsoo-han/autotrader/internal/sessionmgr"
)

// Server wraps a gin engine around a sessionmgr.Manager and a
// Coordinator. It owns no state of its own beyond routing.
type Server struct {
	router *gin.Engine
	server *http.Server
	sess   *sessionmgr.Manager
	coord  *coordinator.Coordinator
	hub    *Hub
	log    zerolog.Logger
}

// New builds a Server listening on addr. hub may be nil, in which case the
// Server creates its own; either way the caller is responsible for running
// Hub().Run on its own goroutine so the push loop shares the process
// context's lifetime. Passing the hub in lets cmd/api hand the same Hub to
// the Coordinator as its Notifier before the Server exists.
func New(addr string, sess *sessionmgr.Manager, coord *coordinator.Coordinator, hub *Hub, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(metrics.GinMiddleware())

	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		router: router,
		sess:   sess,
		coord:  coord,
		hub:    hub,
		log:    log,
		server: &http.Server{Addr: addr, Handler: router, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
	}
	router.Use(s.logRequests)
	s.routes()
	return s
}

// Hub exposes the WebSocket push hub so callers can wire it as a
// coordinator.Notifier and run its loop.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("elapsed", time.Since(start)).
		Msg("request")
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/watchlist", s.handleWatchlist)
		v1.GET("/activity", s.handleActivity)

		v1.POST("/trading/pause", s.handlePause)
		v1.POST("/trading/resume", s.handleResume)

		v1.POST("/sessions", s.handleStartAnalysis)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.POST("/sessions/:id/approve", s.handleApprove)
		v1.POST("/sessions/:id/reject", s.handleReject)
		v1.POST("/sessions/:id/cancel", s.handleCancel)

		v1.POST("/alerts/:id/action", s.handleAlertAction)
	}
}
