// internal/services/script_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/models"
	"github.com/Corphon/StoryboardForge/internal/storage"
	"github.com/Corphon/StoryboardForge/internal/utils"
)

const scriptsDir = "scripts"

// ScriptService 剧本的解析入口与持久化
type ScriptService struct {
	Parser  *ParserService
	Storage *storage.FileStorage
}

// NewScriptService 创建剧本服务
func NewScriptService(parser *ParserService, fileStorage *storage.FileStorage) *ScriptService {
	return &ScriptService{
		Parser:  parser,
		Storage: fileStorage,
	}
}

// CreateScript 解析剧本文本并持久化为新剧本
func (s *ScriptService) CreateScript(ctx context.Context, userID, title, text string, opts models.ParseOptions) (*models.Script, error) {
	scenes, err := s.Parser.Parse(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	script := &models.Script{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		RawText:   text,
		Scenes:    scenes,
		Mode:      opts.Mode,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.saveScript(script); err != nil {
		return nil, apperrors.NewProcessingError("保存剧本失败", err)
	}

	utils.GetLogger().Info("Script created", map[string]interface{}{
		"script_id": script.ID,
		"user_id":   userID,
		"scenes":    len(scenes),
		"mode":      string(opts.Mode),
	})

	return script, nil
}

// GetScript 加载剧本
func (s *ScriptService) GetScript(scriptID string) (*models.Script, error) {
	if scriptID == "" {
		return nil, apperrors.NewValidationError("剧本ID不能为空", nil)
	}

	var script models.Script
	if err := s.Storage.LoadJSONFile(scriptsDir, scriptFilename(scriptID), &script); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("剧本不存在: %s", scriptID), err)
	}

	return &script, nil
}

// UpdateScriptScenes 覆盖剧本的场景列表（人工修正解析结果后使用）
func (s *ScriptService) UpdateScriptScenes(scriptID string, scenes []models.Scene) (*models.Script, error) {
	script, err := s.GetScript(scriptID)
	if err != nil {
		return nil, err
	}

	if len(scenes) == 0 {
		return nil, apperrors.NewValidationError("场景列表不能为空", nil)
	}

	script.Scenes = scenes
	script.UpdatedAt = time.Now()

	if err := s.saveScript(script); err != nil {
		return nil, apperrors.NewProcessingError("保存剧本失败", err)
	}

	return script, nil
}

// DeleteScript 删除剧本
func (s *ScriptService) DeleteScript(scriptID string) error {
	if !s.Storage.FileExists(scriptsDir, scriptFilename(scriptID)) {
		return apperrors.NewNotFoundError(fmt.Sprintf("剧本不存在: %s", scriptID), nil)
	}
	return s.Storage.DeleteFile(scriptsDir, scriptFilename(scriptID))
}

// ListScripts 按用户列出剧本，userID 为空时返回全部
func (s *ScriptService) ListScripts(userID string) ([]*models.Script, error) {
	files, err := s.Storage.ListFiles(scriptsDir)
	if err != nil {
		return nil, err
	}

	scripts := make([]*models.Script, 0, len(files))
	for _, file := range files {
		var script models.Script
		if err := s.Storage.LoadJSONFile(scriptsDir, file, &script); err != nil {
			utils.GetLogger().Warn("Skipping unreadable script file", map[string]interface{}{
				"file": file,
				"err":  err.Error(),
			})
			continue
		}
		if userID != "" && script.UserID != userID {
			continue
		}
		scriptCopy := script
		scripts = append(scripts, &scriptCopy)
	}

	return scripts, nil
}

func (s *ScriptService) saveScript(script *models.Script) error {
	return s.Storage.SaveJSONFile(scriptsDir, scriptFilename(script.ID), script)
}

func scriptFilename(scriptID string) string {
	return scriptID + ".json"
}
