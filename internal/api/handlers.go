// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/llm"
	"github.com/Corphon/StoryboardForge/internal/models"
	"github.com/Corphon/StoryboardForge/internal/services"
)

// Handler 处理API请求
type Handler struct {
	ScriptService     *services.ScriptService     // 剧本服务
	ShotListService   *services.ShotListService   // 镜头列表服务
	SanitizerService  *services.SanitizerService  // 提示词净化服务
	StoryboardService *services.StoryboardService // 分镜生成编排服务
	ProgressService   *services.ProgressService   // 进度跟踪服务
	ConfigService     *services.ConfigService     // 配置服务
	UserService       *services.UserService       // 用户服务
	Response          *ResponseHelper             // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	scriptService *services.ScriptService,
	shotListService *services.ShotListService,
	sanitizerService *services.SanitizerService,
	storyboardService *services.StoryboardService,
	progressService *services.ProgressService,
	configService *services.ConfigService,
	userService *services.UserService,
) *Handler {
	return &Handler{
		ScriptService:     scriptService,
		ShotListService:   shotListService,
		SanitizerService:  sanitizerService,
		StoryboardService: storyboardService,
		ProgressService:   progressService,
		ConfigService:     configService,
		UserService:       userService,
		Response:          NewResponseHelper(),
	}
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// handleServiceError 把服务层错误统一映射到HTTP响应
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch {
		case apperrors.IsValidationError(err):
			h.Response.BadRequest(c, appErr.Message)
		case apperrors.IsNotFoundError(err):
			h.Response.Error(c, http.StatusNotFound, appErr.Code, appErr.Message)
		case apperrors.IsConflictError(err):
			h.Response.Conflict(c, appErr.Message)
		case apperrors.IsContentPolicyError(err):
			h.Response.Error(c, http.StatusUnprocessableEntity, ErrorContentPolicy, appErr.Message)
		case apperrors.IsQuotaError(err):
			h.Response.QuotaExceeded(c, appErr.Message)
		default:
			h.Response.InternalError(c, appErr.Message)
		}
		return
	}

	var parseErr *apperrors.ParseError
	if errors.As(err, &parseErr) {
		code := ErrorParseFailed
		status := http.StatusBadRequest
		if parseErr.Retryable {
			code = ErrorParseRetryable
			status = http.StatusServiceUnavailable
		}
		h.Response.Error(c, status, code, parseErr.Message)
		return
	}

	if errors.Is(err, services.ErrLLMNotReady) {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, err.Error())
		return
	}

	h.Response.InternalError(c, err.Error())
}

// ========================================
// 剧本解析处理器
// ========================================

// ParseScriptRequest 剧本解析请求结构
type ParseScriptRequest struct {
	UserID    string              `json:"user_id"`
	Title     string              `json:"title"`
	Text      string              `json:"text"`
	Mode      models.ParseMode    `json:"mode"`
	Fields    []models.SceneField `json:"fields,omitempty"`
	PageLimit int                 `json:"page_limit,omitempty"`
}

// CreateScript 解析剧本并持久化
func (h *Handler) CreateScript(c *gin.Context) {
	var req ParseScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if req.Text == "" {
		h.Response.Error(c, http.StatusBadRequest, ErrorScriptEmpty, "剧本内容为空")
		return
	}
	if req.Mode == "" {
		req.Mode = models.ParseModeAI
	}
	if req.Mode != models.ParseModeAI && req.Mode != models.ParseModePreview {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidParseMode, "解析模式必须是 ai 或 preview")
		return
	}

	script, err := h.ScriptService.CreateScript(c.Request.Context(), req.UserID, req.Title, req.Text, models.ParseOptions{
		Mode:      req.Mode,
		Fields:    req.Fields,
		PageLimit: req.PageLimit,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	// 解析完成后按用户等级校验场景数
	if req.UserID != "" {
		if err := h.UserService.CheckSceneQuota(req.UserID, len(script.Scenes)); err != nil && apperrors.IsQuotaError(err) {
			h.handleServiceError(c, err)
			return
		}
	}

	h.Response.Created(c, script, "剧本解析完成")
}

// PreviewScript 快速预览解析，不落盘不调用LLM
func (h *Handler) PreviewScript(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	if req.Text == "" {
		h.Response.Error(c, http.StatusBadRequest, ErrorScriptEmpty, "剧本内容为空")
		return
	}

	scenes := h.ScriptService.Parser.ParsePreview(req.Text)
	h.Response.Success(c, gin.H{
		"scenes": scenes,
		"mode":   models.ParseModePreview,
	})
}

// GetScript 获取剧本
func (h *Handler) GetScript(c *gin.Context) {
	script, err := h.ScriptService.GetScript(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, script)
}

// ListScripts 列出剧本
func (h *Handler) ListScripts(c *gin.Context) {
	scripts, err := h.ScriptService.ListScripts(c.Query("user_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"scripts": scripts, "total": len(scripts)})
}

// DeleteScript 删除剧本
func (h *Handler) DeleteScript(c *gin.Context) {
	if err := h.ScriptService.DeleteScript(c.Param("id")); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, nil, "剧本已删除")
}

// UpdateScriptScenes 人工修正场景列表
func (h *Handler) UpdateScriptScenes(c *gin.Context) {
	var req struct {
		Scenes []models.Scene `json:"scenes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	script, err := h.ScriptService.UpdateScriptScenes(c.Param("id"), req.Scenes)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, script, "场景已更新")
}

// ========================================
// 镜头列表处理器
// ========================================

// ShotListRequest 镜头列表生成请求结构
type ShotListRequest struct {
	SceneIndexes []int                  `json:"scene_indexes,omitempty"`
	Options      models.ShotListOptions `json:"options"`
}

// GenerateShotList 为剧本生成镜头列表
func (h *Handler) GenerateShotList(c *gin.Context) {
	var req ShotListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	script, err := h.ScriptService.GetScript(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	scenes := script.Scenes
	if len(req.SceneIndexes) > 0 {
		scenes = make([]models.Scene, 0, len(req.SceneIndexes))
		for _, index := range req.SceneIndexes {
			if index < 0 || index >= len(script.Scenes) {
				h.Response.Error(c, http.StatusBadRequest, ErrorInvalidShotIndex,
					"场景索引越界: "+strconv.Itoa(index))
				return
			}
			scenes = append(scenes, script.Scenes[index])
		}
	}

	shots, err := h.ShotListService.Generate(scenes, req.Options)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"shots":                  shots,
		"total_shots":            len(shots),
		"total_duration_seconds": h.ShotListService.TotalDuration(shots),
		"equipment":              h.ShotListService.EquipmentList(shots),
		"shots_by_scene":         h.ShotListService.GroupByScene(shots),
		"style":                  req.Options.Style,
	})
}

// ========================================
// 提示词净化处理器
// ========================================

// SanitizeRequest 提示词净化请求结构
type SanitizeRequest struct {
	Prompt     string `json:"prompt"`
	Aggressive bool   `json:"aggressive,omitempty"`
	Moderate   bool   `json:"moderate,omitempty"`
}

// SanitizePrompt 净化单条提示词并返回分析结果
func (h *Handler) SanitizePrompt(c *gin.Context) {
	var req SanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}
	if req.Prompt == "" {
		h.Response.BadRequest(c, "提示词不能为空")
		return
	}

	if req.Aggressive {
		h.Response.Success(c, gin.H{
			"original":  req.Prompt,
			"sanitized": h.SanitizerService.SanitizeAggressive(req.Prompt),
			"escalated": true,
		})
		return
	}

	if req.Moderate {
		h.Response.Success(c, h.SanitizerService.Process(c.Request.Context(), req.Prompt))
		return
	}

	analysis := h.SanitizerService.Analyze(req.Prompt)
	h.Response.Success(c, analysis)
}

// ========================================
// 分镜生成处理器
// ========================================

// StartStoryboardRequest 启动分镜生成的请求结构
type StartStoryboardRequest struct {
	JobID      string                 `json:"job_id,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	ScriptID   string                 `json:"script_id"`
	SceneIndex int                    `json:"scene_index"`
	Options    models.ShotListOptions `json:"options"`
}

// StartStoryboard 为指定场景启动分镜图生成批次
func (h *Handler) StartStoryboard(c *gin.Context) {
	var req StartStoryboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	script, err := h.ScriptService.GetScript(req.ScriptID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if req.SceneIndex < 0 || req.SceneIndex >= len(script.Scenes) {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidShotIndex, "场景索引越界")
		return
	}

	shots, err := h.ShotListService.Generate(
		[]models.Scene{script.Scenes[req.SceneIndex]}, req.Options)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if req.UserID != "" {
		if err := h.UserService.CheckShotQuota(req.UserID, len(shots)); err != nil {
			h.handleServiceError(c, err)
			return
		}
		if err := h.UserService.ConsumeGenerationQuota(req.UserID, len(shots)); err != nil {
			h.handleServiceError(c, err)
			return
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	if _, err := h.StoryboardService.StartGeneration(c.Request.Context(), jobID, req.SceneIndex, shots); err != nil {
		if errors.Is(err, services.ErrBatchRunning) {
			h.Response.Error(c, http.StatusConflict, ErrorBatchRunning, "该场景已有生成批次在运行")
			return
		}
		h.handleServiceError(c, err)
		return
	}

	h.Response.Accepted(c, gin.H{
		"job_id":      jobID,
		"scene_index": req.SceneIndex,
		"total_shots": len(shots),
	}, "分镜生成批次已启动")
}

// GetStoryboardProgress 轮询批次进度
func (h *Handler) GetStoryboardProgress(c *gin.Context) {
	sceneIndex, err := strconv.Atoi(c.Param("scene_index"))
	if err != nil {
		h.Response.BadRequest(c, "场景索引必须是整数")
		return
	}

	progress, err := h.StoryboardService.GetProgress(c.Param("job_id"), sceneIndex)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.Response.Success(c, progress)
}

// RegenerateFrameRequest 单帧重新生成请求结构
type RegenerateFrameRequest struct {
	Modification string `json:"modification"`
}

// RegenerateFrame 重新生成单帧
func (h *Handler) RegenerateFrame(c *gin.Context) {
	sceneIndex, err := strconv.Atoi(c.Param("scene_index"))
	if err != nil {
		h.Response.BadRequest(c, "场景索引必须是整数")
		return
	}
	shotIndex, err := strconv.Atoi(c.Param("shot_index"))
	if err != nil {
		h.Response.BadRequest(c, "镜头索引必须是整数")
		return
	}

	var req RegenerateFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	frame, err := h.StoryboardService.RegenerateItem(
		c.Request.Context(), c.Param("job_id"), sceneIndex, shotIndex, req.Modification)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidIndex):
			h.Response.Error(c, http.StatusBadRequest, ErrorInvalidShotIndex, "镜头索引越界")
		case errors.Is(err, services.ErrEmptyModification):
			h.Response.Error(c, http.StatusBadRequest, ErrorEmptyModification, "重新生成需要提供修改说明")
		default:
			h.handleServiceError(c, err)
		}
		return
	}

	h.Response.Success(c, frame, "重新生成完成")
}

// RetryFailedFrames 重试批次内所有失败帧
func (h *Handler) RetryFailedFrames(c *gin.Context) {
	sceneIndex, err := strconv.Atoi(c.Param("scene_index"))
	if err != nil {
		h.Response.BadRequest(c, "场景索引必须是整数")
		return
	}

	retried, err := h.StoryboardService.RetryAllFailed(c.Request.Context(), c.Param("job_id"), sceneIndex)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.Response.Success(c, gin.H{"retried": retried})
}

// CancelStoryboard 取消批次
func (h *Handler) CancelStoryboard(c *gin.Context) {
	sceneIndex, err := strconv.Atoi(c.Param("scene_index"))
	if err != nil {
		h.Response.BadRequest(c, "场景索引必须是整数")
		return
	}

	if err := h.StoryboardService.Cancel(c.Param("job_id"), sceneIndex); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.Response.Success(c, nil, "批次已取消")
}

// ========================================
// 进度订阅处理器（轮询）
// ========================================

// GetTaskProgress 轮询任务进度快照
func (h *Handler) GetTaskProgress(c *gin.Context) {
	tracker, ok := h.ProgressService.GetTracker(c.Param("taskID"))
	if !ok {
		h.Response.NotFound(c, "批次")
		return
	}

	h.Response.Success(c, tracker.Snapshot())
}

// ========================================
// 设置处理器
// ========================================

// SaveSettingsRequest 设置保存请求结构
type SaveSettingsRequest struct {
	LLMProvider   string `json:"llm_provider,omitempty"`
	LLMAPIKey     string `json:"llm_api_key,omitempty"`
	LLMModel      string `json:"llm_model,omitempty"`
	ImageProvider string `json:"image_provider,omitempty"`
	ImageAPIKey   string `json:"image_api_key,omitempty"`
	ImageModel    string `json:"image_model,omitempty"`
}

// GetSettings 获取当前配置（密钥脱敏）
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, h.ConfigService.GetSettings())
}

// SaveSettings 更新提供商配置
func (h *Handler) SaveSettings(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if req.LLMProvider != "" {
		if err := h.ConfigService.UpdateLLMSettings(req.LLMProvider, req.LLMAPIKey, req.LLMModel); err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, err.Error())
			return
		}
	}

	if req.ImageProvider != "" {
		if err := h.ConfigService.UpdateImageSettings(req.ImageProvider, req.ImageAPIKey, req.ImageModel); err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorImageConfigInvalid, err.Error())
			return
		}
	}

	h.Response.Success(c, h.ConfigService.GetSettings(), "设置已保存")
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.ConfigService.LLM.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"ready":    ready,
		"state":    state,
		"provider": h.ConfigService.LLM.GetProviderName(),
	})
}

// GetLLMModels 获取当前提供商支持的模型列表
func (h *Handler) GetLLMModels(c *gin.Context) {
	providerName := c.DefaultQuery("provider", h.ConfigService.LLM.GetProviderName())
	if providerName == "" {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, "LLM服务未配置")
		return
	}

	h.Response.Success(c, gin.H{
		"provider": providerName,
		"models":   llm.GetSupportedModelsForProvider(providerName),
	})
}

// ========================================
// 用户管理处理器
// ========================================

// CreateUserRequest 用户创建请求结构
type CreateUserRequest struct {
	Username string          `json:"username"`
	Email    string          `json:"email,omitempty"`
	Tier     models.UserTier `json:"tier,omitempty"`
}

// CreateUser 创建用户
func (h *Handler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	user, err := h.UserService.CreateUser(req.Username, req.Email, req.Tier)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.Response.Created(c, user)
}

// GetUserProfile 获取用户档案
func (h *Handler) GetUserProfile(c *gin.Context) {
	user, err := h.UserService.GetUser(c.Param("user_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, user)
}

// UpdateUserPreferences 更新用户个性化设置
func (h *Handler) UpdateUserPreferences(c *gin.Context) {
	var prefs models.UserPreferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	user, err := h.UserService.UpdatePreferences(c.Param("user_id"), prefs)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, user, "设置已更新")
}

// UpgradeUserTier 调整用户等级
func (h *Handler) UpgradeUserTier(c *gin.Context) {
	var req struct {
		Tier models.UserTier `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	user, err := h.UserService.UpgradeTier(c.Param("user_id"), req.Tier)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, user, "等级已更新")
}

// GetUserUsage 查询用户当日生成用量
func (h *Handler) GetUserUsage(c *gin.Context) {
	used, limit, err := h.UserService.GetDailyUsage(c.Param("user_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"used": used, "limit": limit})
}
