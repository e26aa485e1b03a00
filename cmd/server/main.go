// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Corphon/RoleRealm/internal/app"
	"github.com/Corphon/RoleRealm/internal/config"
	"github.com/Corphon/RoleRealm/internal/di"
	"github.com/Corphon/RoleRealm/internal/utils"
)

func main() {
	log.Println("🚀 启动 RoleRealm 服务器...")

	// 1. 加载配置
	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s，持久化: %s", cfg.Port, cfg.Persistence)

	// 2. 创建必要的目录
	createDirectories(cfg)
	log.Println("✅ 目录结构创建完成")

	// 3. 日志写入文件
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "rolerealm.log")); err != nil {
		log.Printf("⚠️ 日志文件初始化失败，仅输出到控制台: %v", err)
	}
	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}
	defer utils.GetLogger().Close()

	// 4. 初始化所有服务（按依赖顺序）并设置路由
	application, err := app.Initialize(cfg)
	if err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	defer application.Cleanup()
	log.Printf("✅ 所有服务初始化完成，服务数量: %d", len(di.GetContainer().GetNames()))

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 启动服务器，等待中断信号以进行优雅关闭
	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 API地址: http://localhost:%s/api/health", cfg.Port)
	log.Printf("🔗 指标地址: http://localhost:%s/metrics", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Printf("❌ 服务器异常退出: %v", err)
		application.Cleanup()
		os.Exit(1)
	}
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{di.ServiceConfig, di.ServiceLoader, di.ServiceSink, di.ServiceSession}
	for _, serviceName := range criticalServices {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "stories"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
