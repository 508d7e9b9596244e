package lmhandler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IntrospectServer is a small side HTTP surface reporting C3's live
// state — not a wire protocol the sandbox talks to, just operability
// tooling for dashboards, built the same gin-based
// way the teacher exposes its own /health and /api/v1 routes.
type IntrospectServer struct {
	server *http.Server
	logger *zap.Logger
}

func NewIntrospectServer(addr string, handler *Handler, logger *zap.Logger) *IntrospectServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	router.GET("/status", func(c *gin.Context) {
		inUse, cap := handler.CapabilityUtilization()
		c.JSON(http.StatusOK, gin.H{
			"active_connections":    handler.ActiveConnections(),
			"capability_cap":        cap,
			"capability_in_use":     inUse,
			"depth_model_map":       handler.router.Snapshot(),
			"configured_max_depth":  handler.cfg.MaxDepth,
		})
	})

	return &IntrospectServer{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

func (s *IntrospectServer) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("introspection server error", zap.Error(err))
		}
	}()
}

func (s *IntrospectServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
