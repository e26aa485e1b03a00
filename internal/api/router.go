// internal/api/router.go
package api

import (
	"fmt"

	"github.com/Corphon/RoleRealm/internal/config"
	"github.com/Corphon/RoleRealm/internal/di"
	"github.com/Corphon/RoleRealm/internal/services"
	"github.com/Corphon/RoleRealm/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, *Handler, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	sessionService, err := di.Resolve[*services.SessionService](container, di.ServiceSession)
	if err != nil {
		return nil, nil, fmt.Errorf("会话服务未正确初始化: %w", err)
	}
	llmService, _ := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	manager, err := di.Resolve[*WebSocketManager](container, di.ServiceWebSocket)
	if err != nil {
		manager = NewWebSocketManager(nil)
		container.Register(di.ServiceWebSocket, manager)
	}

	handler := NewHandler(sessionService, llmService, manager)
	return NewRouter(handler, cfg, utils.GetLogger()), handler, nil
}

// NewRouter 注册中间件和全部路由
func NewRouter(handler *Handler, cfg *config.Config, logger *utils.Logger) *gin.Engine {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware())

	limiter := NewRateLimiter(cfg.RateLimitPerMinute)
	handler.limiter = limiter

	// 指标与 WebSocket
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/stories", handler.ListStories)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.GET("", handler.ListSessions)
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.POST("/:id/resume", handler.ResumeSession)
			sessionsGroup.POST("/:id/messages", limiter.Middleware(), handler.PostMessage)
			sessionsGroup.GET("/:id/events", handler.GetEvents)
			sessionsGroup.GET("/:id/status", handler.GetStatus)
			sessionsGroup.GET("/:id/characters", handler.GetRoster)
			sessionsGroup.GET("/:id/characters/:name", handler.GetCharacter)
			sessionsGroup.DELETE("/:id", handler.CloseSession)
		}
	}

	return r
}
