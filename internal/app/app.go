// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/Corphon/StoryboardForge/internal/config"
	"github.com/Corphon/StoryboardForge/internal/di"
	"github.com/Corphon/StoryboardForge/internal/imagegen"
	"github.com/Corphon/StoryboardForge/internal/services"
	"github.com/Corphon/StoryboardForge/internal/storage"
	"github.com/Corphon/StoryboardForge/internal/utils"
)

// App 应用程序单例
type App struct {
	Server   *http.Server
	stopChan chan struct{}
}

var (
	instance *App
	appOnce  sync.Once
)

// GetApp 获取应用实例
func GetApp() *App {
	appOnce.Do(func() {
		instance = &App{
			stopChan: make(chan struct{}),
		}
	})
	return instance
}

// InitServices 按依赖顺序初始化所有服务并注册到容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 日志系统
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "app.log")); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	// 文件存储
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	fileStorage.StartCacheCleanup()
	container.Register("storage", fileStorage)

	// Redis 进度镜像（可选）
	mirror := storage.NewProgressMirror(cfg.RedisAddr, cfg.RedisPassword)
	if mirror != nil {
		if err := mirror.Ping(context.Background()); err != nil {
			log.Printf("⚠️ Redis 进度镜像不可用: %v", err)
		}
	}
	container.Register("mirror", mirror)

	// LLM服务（密钥缺失时降级为未就绪状态）
	llmService, err := services.NewLLMService()
	if err != nil {
		log.Printf("⚠️ LLM服务初始化降级: %v", err)
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	// 进度服务
	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	// 剧本解析
	parserService := services.NewParserService(llmService)
	container.Register("parser", parserService)

	scriptService := services.NewScriptService(parserService, fileStorage)
	container.Register("script", scriptService)

	// 镜头列表
	shotListService := services.NewShotListService()
	container.Register("shotlist", shotListService)

	// 提示词净化
	sanitizerService := services.NewSanitizerService(llmService)
	container.Register("sanitizer", sanitizerService)

	// 用户与配额
	userService := services.NewUserService(fileStorage)
	container.Register("user", userService)

	// 分镜生成编排
	storyboardService := services.NewStoryboardService(sanitizerService, fileStorage, mirror, progressService)
	if provider, err := imagegen.GetProvider(cfg.ImageProvider, cfg.ImageConfig); err != nil {
		log.Printf("⚠️ 图像提供者初始化降级: %v", err)
	} else {
		storyboardService.SetImageProvider(provider)
	}
	container.Register("storyboard", storyboardService)

	// 配置服务
	configService := services.NewConfigService(llmService, storyboardService, fileStorage)
	container.Register("config", configService)

	// 加密备份的密钥兜底恢复
	if restored, err := configService.RestoreCredentials(); err == nil && restored > 0 {
		log.Printf("✅ 从加密备份恢复了 %d 个API密钥", restored)
	}

	return nil
}

// DataPath 返回数据目录下的路径
func DataPath(parts ...string) string {
	cfg := config.GetCurrentConfig()
	return filepath.Join(append([]string{cfg.DataDir}, parts...)...)
}
