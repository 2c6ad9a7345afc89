package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/application/runtime"
	"github.com/aomi-labs/orchestrator/internal/domain/service"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/prompt"
	"github.com/aomi-labs/orchestrator/internal/interfaces/http/handlers"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host string
	Port int
	Mode string // "production" selects gin release mode; any other value (e.g. "local") selects debug mode
}

// NewServer builds the HTTP surface: the session-oriented endpoints
// (spec §6.1) backed by rt, plus the legacy single-shot Agent Loop SSE
// endpoint (/api/v1/agent) kept alongside it for callers that don't need
// session persistence (e.g. the VS Code extension's one-off runs).
func NewServer(cfg Config, rt *runtime.Runtime, agentLoop *service.AgentLoop, toolExec service.ToolExecutor, promptEngine *prompt.PromptEngine, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	sessionHandler := handlers.NewSessionHandler(rt, logger)
	var agentHandler *handlers.AgentHandler
	if agentLoop != nil {
		agentHandler = handlers.NewAgentHandler(agentLoop, toolExec, promptEngine, logger)
	}

	setupRoutes(router, sessionHandler, agentHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes wires spec §6.1's session surface under /api, plus the
// legacy one-shot agent SSE endpoint under /api/v1.
func setupRoutes(router *gin.Engine, sessionHandler *handlers.SessionHandler, agentHandler *handlers.AgentHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/chat", sessionHandler.Chat)
		api.GET("/state", sessionHandler.GetState)
		api.GET("/chat/stream", sessionHandler.ChatStream)
		api.POST("/interrupt", sessionHandler.Interrupt)
		api.POST("/system/event", sessionHandler.SystemEvent)
	}

	if agentHandler != nil {
		v1 := router.Group("/api/v1")
		v1.POST("/agent", agentHandler.RunAgent)
		v1.GET("/agent/tools", agentHandler.GetTools)
	}
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
