// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Corphon/RoleRealm/internal/api"
	"github.com/Corphon/RoleRealm/internal/config"
	"github.com/Corphon/RoleRealm/internal/di"
	"github.com/Corphon/RoleRealm/internal/services"
	"github.com/Corphon/RoleRealm/internal/storage"
	"github.com/Corphon/RoleRealm/internal/utils"
	"github.com/gin-gonic/gin"

	// 注册默认的 LLM 提供者
	_ "github.com/Corphon/RoleRealm/internal/llm/providers/openrouter"
)

// App 应用程序，持有全部已装配的服务
type App struct {
	config    *config.Config
	logger    *utils.Logger
	loader    *storage.StoryLoader
	sink      storage.EventSink
	llm       *services.LLMService
	sessions  *services.SessionService
	wsManager *api.WebSocketManager

	router  *gin.Engine
	handler *api.Handler
	server  *http.Server

	cleanupOnce sync.Once
}

var (
	instance *App
	appMutex sync.Mutex
)

// GetApp 返回全局应用实例（未初始化时为 nil）
func GetApp() *App {
	appMutex.Lock()
	defer appMutex.Unlock()
	return instance
}

// Initialize 初始化全局应用实例
func Initialize(cfg *config.Config) (*App, error) {
	appMutex.Lock()
	defer appMutex.Unlock()

	if instance != nil {
		return instance, nil
	}
	a, err := New(cfg, utils.GetLogger())
	if err != nil {
		return nil, err
	}
	if err := a.SetupHTTP(); err != nil {
		a.Cleanup()
		return nil, err
	}
	instance = a
	return a, nil
}

// New 按依赖顺序装配服务并注册到容器
func New(cfg *config.Config, logger *utils.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	a := &App{config: cfg, logger: logger}
	if err := a.InitServices(); err != nil {
		a.Cleanup()
		return nil, err
	}
	return a, nil
}

// InitServices 初始化服务：故事加载 -> 事件存储 -> LLM -> 会话编排 -> WebSocket
func (a *App) InitServices() error {
	config.SetCurrentConfig(a.config)
	container := di.GetContainer()
	container.Register(di.ServiceConfig, a.config)

	loader, err := storage.NewStoryLoader(a.config.DataDir, a.config.StoryCacheTTL)
	if err != nil {
		return fmt.Errorf("创建故事加载器失败: %w", err)
	}
	a.loader = loader
	container.Register(di.ServiceLoader, loader)

	sink, err := storage.NewEventSink(a.config.Persistence, a.config.DataDir)
	if err != nil {
		return fmt.Errorf("创建事件存储失败: %w", err)
	}
	a.sink = sink
	container.Register(di.ServiceSink, sink)

	a.llm = services.NewLLMService(a.config)
	container.Register(di.ServiceLLM, a.llm)
	if !a.llm.IsReady() {
		a.logger.Warn("⚠️ LLM 服务未就绪", map[string]interface{}{"state": a.llm.GetReadyState()})
	}

	a.sessions = services.NewSessionService(loader, sink, a.llm, SessionOptionsFromConfig(a.config), a.logger)
	container.Register(di.ServiceSession, a.sessions)

	a.wsManager = api.NewWebSocketManager(a.logger)
	container.Register(di.ServiceWebSocket, a.wsManager)

	a.logger.Info("✅ 服务初始化完成", map[string]interface{}{
		"persistence": a.config.Persistence,
		"provider":    a.llm.GetProviderName(),
	})
	return nil
}

// SessionOptionsFromConfig 将配置转换为编排参数
func SessionOptionsFromConfig(cfg *config.Config) services.SessionOptions {
	return services.SessionOptions{
		ContextBudget:     cfg.ContextBudget,
		MaxActorsPerRound: cfg.MaxActorsPerRound,
		GenerationTimeout: cfg.GenerationTimeout,
		Addressing: services.AddressingConfig{
			MentionPrefix:   cfg.MentionPrefix,
			DirectorAliases: append([]string(nil), cfg.DirectorAliases...),
			MatchPlainNames: cfg.MatchPlainNames,
		},
		ActionOpen:  cfg.ActionOpen,
		ActionClose: cfg.ActionClose,
	}
}

// SetupHTTP 创建路由和HTTP服务器
func (a *App) SetupHTTP() error {
	router, handler, err := api.SetupRouter()
	if err != nil {
		return err
	}
	a.router = router
	a.handler = handler
	a.server = &http.Server{
		Addr:              ":" + a.config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Run 启动HTTP服务，ctx 结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return fmt.Errorf("HTTP服务未初始化")
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("🚀 服务器启动", map[string]interface{}{"addr": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("🛑 正在关闭服务器...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}
	a.logger.Info("✅ 服务器已优雅关闭", nil)
	return nil
}

// Cleanup 释放全部资源，可重复调用
func (a *App) Cleanup() {
	a.cleanupOnce.Do(func() {
		if a.handler != nil {
			a.handler.Close()
		}
		if a.wsManager != nil {
			a.wsManager.Shutdown()
		}
		if a.sessions != nil {
			a.sessions.Close()
		}
		if a.sink != nil {
			if err := a.sink.Close(); err != nil {
				a.logger.Warn("关闭事件存储失败", map[string]interface{}{"error": err.Error()})
			}
		}
		di.GetContainer().Clear()
	})
}

// Reset 丢弃全局实例（测试用）
func Reset() {
	appMutex.Lock()
	defer appMutex.Unlock()
	if instance != nil {
		instance.Cleanup()
	}
	instance = nil
}

// Config 返回应用配置
func (a *App) Config() *config.Config { return a.config }

// Sessions 返回会话编排服务
func (a *App) Sessions() *services.SessionService { return a.sessions }

// LLM 返回生成服务
func (a *App) LLM() *services.LLMService { return a.llm }

// Router 返回HTTP路由
func (a *App) Router() *gin.Engine { return a.router }

// IsDebugMode 是否处于调试模式
func (a *App) IsDebugMode() bool { return a.config != nil && a.config.DebugMode }
