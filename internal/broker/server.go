package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/recursivelm/rlm/internal/rlmtype"
)

// Server exposes the broker over the four HTTP endpoints named in
// §4.4, in the gin idiom the teacher uses for its own HTTP API.
type Server struct {
	broker *Broker
	server *http.Server
	logger *zap.Logger
}

type ServerConfig struct {
	Addr string
	Mode string // debug | release
}

func NewServer(cfg ServerConfig, b *Broker, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	router.POST("/enqueue", func(c *gin.Context) {
		var req rlmtype.LMRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp := b.Enqueue(c.Request.Context(), req)
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, b.Pending())
	})

	router.POST("/respond", func(c *gin.Context) {
		var body struct {
			RequestID string              `json:"request_id"`
			Response  rlmtype.LMResponse  `json:"response"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if ok := b.Respond(body.RequestID, body.Response); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such pending request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return &Server{
		broker: b,
		server: &http.Server{Addr: cfg.Addr, Handler: router},
		logger: logger,
	}
}

func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("broker HTTP server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.broker.Cancel()
	return s.server.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("broker HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
