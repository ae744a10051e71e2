// internal/services/config_service.go
package services

import (
	"os"
	"strings"

	"github.com/Corphon/StoryboardForge/internal/config"
	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/imagegen"
	"github.com/Corphon/StoryboardForge/internal/llm"
	"github.com/Corphon/StoryboardForge/internal/storage"
	"github.com/Corphon/StoryboardForge/internal/utils"
)

const credentialsFile = "credentials.json"

// ConfigService 运行期配置管理：切换提供商并热更新相关服务
type ConfigService struct {
	LLM        *LLMService
	Storyboard *StoryboardService
	Storage    *storage.FileStorage

	// 用于 API 密钥落盘加密的口令，来自 APP_SECRET 环境变量
	secret string
}

// SettingsView 对外展示的配置视图，API 密钥只露尾部
type SettingsView struct {
	LLMProvider    string   `json:"llm_provider"`
	LLMModel       string   `json:"llm_model"`
	LLMKeySet      bool     `json:"llm_key_set"`
	LLMKeyHint     string   `json:"llm_key_hint,omitempty"`
	ImageProvider  string   `json:"image_provider"`
	ImageModel     string   `json:"image_model"`
	ImageKeySet    bool     `json:"image_key_set"`
	ImageKeyHint   string   `json:"image_key_hint,omitempty"`
	LLMProviders   []string `json:"llm_providers"`
	ImageProviders []string `json:"image_providers"`
}

// NewConfigService 创建配置服务
func NewConfigService(llmService *LLMService, storyboard *StoryboardService, fileStorage *storage.FileStorage) *ConfigService {
	return &ConfigService{
		LLM:        llmService,
		Storyboard: storyboard,
		Storage:    fileStorage,
		secret:     os.Getenv("APP_SECRET"),
	}
}

// GetSettings 返回当前配置的脱敏视图
func (s *ConfigService) GetSettings() *SettingsView {
	cfg := config.GetCurrentConfig()

	view := &SettingsView{
		LLMProvider:    cfg.LLMProvider,
		LLMModel:       cfg.LLMConfig["default_model"],
		ImageProvider:  cfg.ImageProvider,
		ImageModel:     cfg.ImageConfig["default_model"],
		LLMProviders:   llm.ListProviders(),
		ImageProviders: imagegen.ListProviders(),
	}

	if key := cfg.LLMConfig["api_key"]; key != "" {
		view.LLMKeySet = true
		view.LLMKeyHint = maskAPIKey(key)
	}
	if key := cfg.ImageConfig["api_key"]; key != "" {
		view.ImageKeySet = true
		view.ImageKeyHint = maskAPIKey(key)
	}

	return view
}

// UpdateLLMSettings 切换文本提供商并热更新解析链路
func (s *ConfigService) UpdateLLMSettings(provider, apiKey, model string) error {
	if provider == "" {
		return apperrors.NewValidationError("提供商不能为空", nil)
	}

	cfg := config.GetCurrentConfig()
	newConfig := map[string]string{
		"api_key":       apiKey,
		"default_model": model,
	}
	// 未提交密钥时沿用旧密钥
	if apiKey == "" && cfg.LLMProvider == provider {
		newConfig["api_key"] = cfg.LLMConfig["api_key"]
	}
	if model == "" {
		newConfig["default_model"] = cfg.LLMConfig["default_model"]
	}

	if err := s.LLM.UpdateProvider(provider, newConfig); err != nil {
		return apperrors.NewProcessingError("切换文本提供商失败", err)
	}

	if err := config.UpdateLLMConfig(provider, newConfig); err != nil {
		return apperrors.NewProcessingError("保存配置失败", err)
	}

	s.backupCredentials()
	return nil
}

// UpdateImageSettings 切换图像提供商并热更新分镜图生成链路
func (s *ConfigService) UpdateImageSettings(provider, apiKey, model string) error {
	if provider == "" {
		return apperrors.NewValidationError("提供商不能为空", nil)
	}

	cfg := config.GetCurrentConfig()
	newConfig := map[string]string{
		"api_key":       apiKey,
		"default_model": model,
	}
	if apiKey == "" && cfg.ImageProvider == provider {
		newConfig["api_key"] = cfg.ImageConfig["api_key"]
	}
	if model == "" {
		newConfig["default_model"] = cfg.ImageConfig["default_model"]
	}

	imageProvider, err := imagegen.GetProvider(provider, newConfig)
	if err != nil {
		return apperrors.NewProcessingError("切换图像提供商失败", err)
	}

	if s.Storyboard != nil {
		s.Storyboard.SetImageProvider(imageProvider)
	}

	if err := config.UpdateImageConfig(provider, newConfig); err != nil {
		return apperrors.NewProcessingError("保存配置失败", err)
	}

	s.backupCredentials()
	return nil
}

// backupCredentials 把 API 密钥加密落盘，密钥口令缺失时跳过
func (s *ConfigService) backupCredentials() {
	if s.secret == "" || s.Storage == nil {
		return
	}

	cfg := config.GetCurrentConfig()
	encrypted := make(map[string]string)

	for name, key := range map[string]string{
		"llm_api_key":   cfg.LLMConfig["api_key"],
		"image_api_key": cfg.ImageConfig["api_key"],
	} {
		if key == "" {
			continue
		}
		cipher, err := utils.Encrypt(key, s.secret)
		if err != nil {
			utils.GetLogger().Warn("Failed to encrypt credential", map[string]interface{}{"name": name})
			continue
		}
		encrypted[name] = cipher
	}

	if len(encrypted) == 0 {
		return
	}
	if err := s.Storage.SaveJSONFile("", credentialsFile, encrypted); err != nil {
		utils.GetLogger().Warn("Failed to back up credentials", map[string]interface{}{"err": err.Error()})
	}
}

// RestoreCredentials 从加密备份恢复 API 密钥，返回恢复的条目数
func (s *ConfigService) RestoreCredentials() (int, error) {
	if s.secret == "" || s.Storage == nil {
		return 0, nil
	}
	if !s.Storage.FileExists("", credentialsFile) {
		return 0, nil
	}

	var encrypted map[string]string
	if err := s.Storage.LoadJSONFile("", credentialsFile, &encrypted); err != nil {
		return 0, err
	}

	restored := 0
	cfg := config.GetCurrentConfig()

	if cipher, ok := encrypted["llm_api_key"]; ok && cfg.LLMConfig["api_key"] == "" {
		if key, err := utils.Decrypt(cipher, s.secret); err == nil {
			llmConfig := cfg.LLMConfig
			llmConfig["api_key"] = key
			if err := s.UpdateLLMSettings(cfg.LLMProvider, key, llmConfig["default_model"]); err == nil {
				restored++
			}
		}
	}
	if cipher, ok := encrypted["image_api_key"]; ok && cfg.ImageConfig["api_key"] == "" {
		if key, err := utils.Decrypt(cipher, s.secret); err == nil {
			if err := s.UpdateImageSettings(cfg.ImageProvider, key, cfg.ImageConfig["default_model"]); err == nil {
				restored++
			}
		}
	}

	return restored, nil
}

// maskAPIKey 只保留密钥末四位
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 4) + key[len(key)-4:]
}
