// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryboardForge/internal/config"
	"github.com/Corphon/StoryboardForge/internal/di"
	"github.com/Corphon/StoryboardForge/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 只从容器获取服务，不再创建新实例
	container := di.GetContainer()

	scriptService, ok := container.Get("script").(*services.ScriptService)
	if !ok {
		return nil, fmt.Errorf("剧本服务未正确初始化")
	}

	shotListService, ok := container.Get("shotlist").(*services.ShotListService)
	if !ok {
		return nil, fmt.Errorf("镜头列表服务未正确初始化")
	}

	sanitizerService, ok := container.Get("sanitizer").(*services.SanitizerService)
	if !ok {
		return nil, fmt.Errorf("净化服务未正确初始化")
	}

	storyboardService, ok := container.Get("storyboard").(*services.StoryboardService)
	if !ok {
		return nil, fmt.Errorf("分镜生成服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	userService, ok := container.Get("user").(*services.UserService)
	if !ok {
		return nil, fmt.Errorf("用户服务未正确初始化")
	}

	handler := NewHandler(
		scriptService,
		shotListService,
		sanitizerService,
		storyboardService,
		progressService,
		configService,
		userService,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(httpsRedirectMiddleware())
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 剧本相关路由
		// ===============================
		scriptsGroup := api.Group("/scripts")
		{
			scriptsGroup.POST("", ParseRateLimit(), handler.CreateScript)
			scriptsGroup.POST("/preview", handler.PreviewScript)
			scriptsGroup.GET("", handler.ListScripts)
			scriptsGroup.GET("/:id", handler.GetScript)
			scriptsGroup.DELETE("/:id", handler.DeleteScript)
			scriptsGroup.PUT("/:id/scenes", handler.UpdateScriptScenes)

			// 镜头列表
			scriptsGroup.POST("/:id/shotlist", handler.GenerateShotList)
		}

		// ===============================
		// 提示词净化路由
		// ===============================
		api.POST("/sanitize", handler.SanitizePrompt)

		// ===============================
		// 分镜生成路由
		// ===============================
		storyboardsGroup := api.Group("/storyboards")
		storyboardsGroup.Use(GenerationRateLimit())
		{
			storyboardsGroup.POST("", handler.StartStoryboard)

			sceneGroup := storyboardsGroup.Group("/:job_id/scenes/:scene_index")
			{
				sceneGroup.GET("/progress", handler.GetStoryboardProgress)
				sceneGroup.POST("/frames/:shot_index/regenerate", handler.RegenerateFrame)
				sceneGroup.POST("/retry-failed", handler.RetryFailedFrames)
				sceneGroup.POST("/cancel", handler.CancelStoryboard)
			}
		}

		// 进度轮询
		api.GET("/progress/:taskID", handler.GetTaskProgress)

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
		}

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
		}

		// ===============================
		// 用户管理路由
		// ===============================
		api.POST("/users", handler.CreateUser)
		usersGroup := api.Group("/users/:user_id")
		{
			usersGroup.GET("", handler.GetUserProfile)
			usersGroup.PUT("/preferences", handler.UpdateUserPreferences)
			usersGroup.PUT("/tier", handler.UpgradeUserTier)
			usersGroup.GET("/usage", handler.GetUserUsage)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
// httpsRedirectMiddleware 将代理转发的明文请求重定向到HTTPS并中止后续处理
func httpsRedirectMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
			c.Redirect(http.StatusPermanentRedirect,
				"https://"+c.Request.Host+c.Request.URL.Path)
			c.Abort()
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
