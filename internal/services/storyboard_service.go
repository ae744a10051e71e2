// internal/services/storyboard_service.go
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/imagegen"
	"github.com/Corphon/StoryboardForge/internal/models"
	"github.com/Corphon/StoryboardForge/internal/storage"
	"github.com/Corphon/StoryboardForge/internal/utils"
)

var (
	// ErrInvalidIndex 镜头索引越界
	ErrInvalidIndex = apperrors.NewValidationError("镜头索引越界", nil)
	// ErrEmptyModification 手动重新生成必须提供修改说明
	ErrEmptyModification = apperrors.NewValidationError("重新生成需要提供修改说明", nil)
	// ErrBatchNotFound 指定的生成批次不存在
	ErrBatchNotFound = apperrors.NewNotFoundError("生成批次不存在", nil)
	// ErrBatchRunning 同一 (job, scene) 上已有批次在运行
	ErrBatchRunning = apperrors.NewConflictError("该场景已有生成批次在运行", nil)
)

// GenerationBatch 一个 (jobID, sceneIndex) 的分镜生成批次
// Frames 中 nil 表示 pending，每个槽位只在结算时写入一次终态
type GenerationBatch struct {
	JobID      string
	SceneIndex int
	Shots      []models.Shot
	Frames     []*models.StoryboardFrame
	Status     models.GenerationStatus

	cancelled bool
	done      chan struct{}
	mu        sync.RWMutex
}

// StoryboardService 分镜图生成编排器
// 每个镜头独立出一次图像生成调用，单项失败写入错误哨兵而不中断批次
type StoryboardService struct {
	Sanitizer *SanitizerService
	Storage   *storage.FileStorage
	Mirror    *storage.ProgressMirror
	Progress  *ProgressService
	Locks     *LockManager

	// PreCheck 生成前的准入钩子（配额/等级检查由外部注入）
	PreCheck func(ctx context.Context, jobID string) error

	providerMutex sync.RWMutex
	provider      imagegen.Provider

	// 出站图像调用的并发上限
	maxConcurrent int

	jobs map[string]*GenerationBatch
	mu   sync.RWMutex
}

// NewStoryboardService 创建编排服务
func NewStoryboardService(sanitizer *SanitizerService, fileStorage *storage.FileStorage, mirror *storage.ProgressMirror, progress *ProgressService) *StoryboardService {
	return &StoryboardService{
		Sanitizer:     sanitizer,
		Storage:       fileStorage,
		Mirror:        mirror,
		Progress:      progress,
		Locks:         NewLockManager(),
		maxConcurrent: 3,
		jobs:          make(map[string]*GenerationBatch),
	}
}

// SetImageProvider 设置图像生成提供者
func (s *StoryboardService) SetImageProvider(provider imagegen.Provider) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.provider = provider
}

func (s *StoryboardService) getProvider() imagegen.Provider {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider
}

func batchKey(jobID string, sceneIndex int) string {
	return fmt.Sprintf("%s:%d", jobID, sceneIndex)
}

func slotKey(jobID string, sceneIndex, shotIndex int) string {
	return fmt.Sprintf("%s:%d:%d", jobID, sceneIndex, shotIndex)
}

// StartGeneration 启动一个批次
// 同一 (jobID, sceneIndex) 上已有运行中的批次时返回冲突错误，
// 已完成的旧批次会被替换（包括清除旧的进度缓存）
func (s *StoryboardService) StartGeneration(ctx context.Context, jobID string, sceneIndex int, shots []models.Shot) (*GenerationBatch, error) {
	if len(shots) == 0 {
		return nil, apperrors.NewValidationError("镜头列表为空", nil)
	}

	if s.PreCheck != nil {
		if err := s.PreCheck(ctx, jobID); err != nil {
			return nil, err
		}
	}

	if s.getProvider() == nil {
		return nil, apperrors.NewProcessingError("图像提供者未配置", nil)
	}

	key := batchKey(jobID, sceneIndex)

	s.mu.Lock()
	if existing, ok := s.jobs[key]; ok {
		existing.mu.RLock()
		running := existing.Status == models.GenerationRunning
		existing.mu.RUnlock()
		if running {
			s.mu.Unlock()
			return nil, ErrBatchRunning
		}
	}

	batch := &GenerationBatch{
		JobID:      jobID,
		SceneIndex: sceneIndex,
		Shots:      append([]models.Shot(nil), shots...),
		Frames:     make([]*models.StoryboardFrame, len(shots)),
		Status:     models.GenerationRunning,
		done:       make(chan struct{}),
	}
	s.jobs[key] = batch
	s.mu.Unlock()

	// 清除上一个批次的进度缓存
	s.Mirror.DeleteProgress(ctx, jobID, sceneIndex)
	if s.Progress != nil {
		s.Progress.RemoveTracker(key)
		s.Progress.CreateTracker(key)
	}

	utils.GetLogger().Info("Storyboard generation started", map[string]interface{}{
		"job_id":      jobID,
		"scene_index": sceneIndex,
		"total":       len(shots),
	})

	go s.runBatch(context.WithoutCancel(ctx), batch)

	return batch, nil
}

// runBatch 受限并发地结算每个镜头槽位
func (s *StoryboardService) runBatch(ctx context.Context, batch *GenerationBatch) {
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	for i := range batch.Shots {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()

			// 取消只拦截尚未发起的调用，在途的跑到结算为止
			batch.mu.RLock()
			cancelled := batch.cancelled
			batch.mu.RUnlock()

			if cancelled {
				s.settleSlot(ctx, batch, index, &models.StoryboardFrame{
					ShotIndex:   index,
					ImageData:   models.FrameErrCancelled,
					GeneratedAt: time.Now(),
				})
				return
			}

			s.generateSlot(ctx, batch, index, "", false)
		}(i)
	}

	wg.Wait()
	s.finishBatch(ctx, batch)
}

// finishBatch 所有槽位结算后收尾
func (s *StoryboardService) finishBatch(ctx context.Context, batch *GenerationBatch) {
	batch.mu.Lock()
	if batch.cancelled {
		batch.Status = models.GenerationCancelled
	} else {
		batch.Status = models.GenerationDone
	}
	close(batch.done)
	batch.mu.Unlock()

	key := batchKey(batch.JobID, batch.SceneIndex)
	if s.Progress != nil {
		if tracker, ok := s.Progress.GetTracker(key); ok {
			tracker.Complete("")
		}
	}

	s.persistBatch(ctx, batch)

	utils.GetLogger().Info("Storyboard generation finished", map[string]interface{}{
		"job_id":      batch.JobID,
		"scene_index": batch.SceneIndex,
	})
}

// buildShotPrompt 从镜头字段拼装图像提示词
func buildShotPrompt(shot models.Shot) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s shot", shot.ShotSize))
	if shot.CameraAngle != "" {
		sb.WriteString(fmt.Sprintf(", %s angle", strings.ToLower(shot.CameraAngle)))
	}
	if shot.CameraMovement != "" {
		sb.WriteString(fmt.Sprintf(", %s camera", strings.ToLower(shot.CameraMovement)))
	}
	sb.WriteString(". ")
	sb.WriteString(shot.Description)

	if shot.Location != "" {
		sb.WriteString(fmt.Sprintf(". Location: %s", shot.Location))
	}
	if len(shot.Characters) > 0 {
		sb.WriteString(fmt.Sprintf(". Characters: %s", strings.Join(shot.Characters, ", ")))
	}
	if len(shot.Props) > 0 {
		sb.WriteString(fmt.Sprintf(". Props: %s", strings.Join(shot.Props, ", ")))
	}
	if len(shot.Wardrobe) > 0 {
		sb.WriteString(fmt.Sprintf(". Wardrobe: %s", strings.Join(shot.Wardrobe, ", ")))
	}
	if len(shot.SpecialEffects) > 0 {
		sb.WriteString(fmt.Sprintf(". Effects: %s", strings.Join(shot.SpecialEffects, ", ")))
	}

	return sb.String()
}

// generateSlot 结算单个槽位：净化 → 出图 → 分类写入终态
// 单项失败永远不会中断批次，失败被归入四类哨兵之一
func (s *StoryboardService) generateSlot(ctx context.Context, batch *GenerationBatch, index int, modText string, aggressive bool) {
	shot := batch.Shots[index]

	prompt := buildShotPrompt(shot)
	if modText != "" {
		prompt += ". Modification: " + modText
	}

	var finalPrompt string
	if aggressive {
		// 策略错误重试直接走激进净化，而不是原样重发
		finalPrompt = s.Sanitizer.SanitizeAggressive(prompt)
	} else {
		processed := s.Sanitizer.Process(ctx, prompt)
		finalPrompt = processed.Sanitized
	}

	frame := &models.StoryboardFrame{
		ShotIndex:   index,
		PromptUsed:  finalPrompt,
		GeneratedAt: time.Now(),
	}

	callCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := s.getProvider().GenerateImage(callCtx, imagegen.ImageRequest{
		Prompt:      finalPrompt,
		AspectRatio: "16:9",
	})

	switch {
	case err != nil && imagegen.IsPolicyRejection(err):
		frame.ImageData = models.FrameErrContentPolicy
	case err != nil:
		frame.ImageData = models.FrameErrGeneration
	case resp == nil || resp.ImageBase64 == "":
		frame.ImageData = models.FrameErrGeneration
	default:
		// 成功响应后的解码失败单列为处理错误
		if _, decodeErr := base64.StdEncoding.DecodeString(resp.ImageBase64); decodeErr != nil {
			frame.ImageData = models.FrameErrProcessing
		} else if persistErr := s.persistFrame(batch, index, resp.ImageBase64, finalPrompt); persistErr != nil {
			frame.ImageData = models.FrameErrStorage
		} else {
			frame.ImageData = resp.ImageBase64
		}
	}

	if frame.IsError() {
		utils.GetLogger().Warn("Storyboard frame settled with error", map[string]interface{}{
			"job_id":      batch.JobID,
			"scene_index": batch.SceneIndex,
			"shot_index":  index,
			"sentinel":    frame.ImageData,
			"err":         fmt.Sprintf("%v", err),
		})
	}

	s.settleSlot(ctx, batch, index, frame)
}

// persistFrame 落盘单帧（图像已就绪后的存储失败归为 STORAGE_FAILED）
func (s *StoryboardService) persistFrame(batch *GenerationBatch, index int, imageBase64, prompt string) error {
	if s.Storage == nil {
		return nil
	}

	dir := fmt.Sprintf("storyboards/%s/scene_%d", batch.JobID, batch.SceneIndex)
	return s.Storage.SaveJSONFile(dir, fmt.Sprintf("frame_%d.json", index), map[string]interface{}{
		"shot_index": index,
		"image_data": imageBase64,
		"prompt":     prompt,
		"created_at": time.Now(),
	})
}

// persistBatch 批次收尾时落盘整体记录
func (s *StoryboardService) persistBatch(ctx context.Context, batch *GenerationBatch) {
	if s.Storage == nil {
		return
	}

	batch.mu.RLock()
	record := models.StoryboardRecord{
		JobID:      batch.JobID,
		SceneIndex: batch.SceneIndex,
		Shots:      batch.Shots,
		Frames:     append([]*models.StoryboardFrame(nil), batch.Frames...),
		UpdatedAt:  time.Now(),
	}
	batch.mu.RUnlock()

	dir := fmt.Sprintf("storyboards/%s", batch.JobID)
	if err := s.Storage.SaveJSONFile(dir, fmt.Sprintf("scene_%d.json", batch.SceneIndex), record); err != nil {
		utils.GetLogger().Error("Failed to persist storyboard record", map[string]interface{}{
			"job_id": batch.JobID,
			"err":    err.Error(),
		})
	}
}

// settleSlot 在槽位锁保护下写入终态并推进进度
func (s *StoryboardService) settleSlot(ctx context.Context, batch *GenerationBatch, index int, frame *models.StoryboardFrame) {
	lock := s.Locks.GetLock(slotKey(batch.JobID, batch.SceneIndex, index))
	lock.Lock()
	defer lock.Unlock()

	batch.mu.Lock()
	batch.Frames[index] = frame
	completed := 0
	for _, f := range batch.Frames {
		if f != nil {
			completed++
		}
	}
	total := len(batch.Frames)
	batch.mu.Unlock()

	key := batchKey(batch.JobID, batch.SceneIndex)
	if s.Progress != nil {
		if tracker, ok := s.Progress.GetTracker(key); ok {
			tracker.UpdateProgress(completed*100/total,
				fmt.Sprintf("%d/%d 帧已结算", completed, total))
		}
	}

	// Redis镜像尽力而为，失败不影响主流程
	if err := s.Mirror.PublishProgress(ctx, batch.JobID, batch.SceneIndex, s.snapshot(batch)); err != nil {
		utils.GetLogger().Warn("Failed to mirror progress", map[string]interface{}{"err": err.Error()})
	}
}

// snapshot 构建批次的只读进度快照
func (s *StoryboardService) snapshot(batch *GenerationBatch) *models.GenerationProgress {
	batch.mu.RLock()
	defer batch.mu.RUnlock()

	completed := 0
	items := make([]*models.StoryboardFrame, len(batch.Frames))
	for i, f := range batch.Frames {
		if f != nil {
			completed++
			frameCopy := *f
			items[i] = &frameCopy
		}
	}

	return &models.GenerationProgress{
		JobID:      batch.JobID,
		SceneIndex: batch.SceneIndex,
		Status:     batch.Status,
		Total:      len(batch.Frames),
		Completed:  completed,
		Items:      items,
		UpdatedAt:  time.Now(),
	}
}

// GetProgress 轮询读取进度，幂等且可任意频率调用
func (s *StoryboardService) GetProgress(jobID string, sceneIndex int) (*models.GenerationProgress, error) {
	s.mu.RLock()
	batch, ok := s.jobs[batchKey(jobID, sceneIndex)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBatchNotFound
	}

	return s.snapshot(batch), nil
}

// WaitForCompletion 阻塞直到批次结束或上下文取消
func (s *StoryboardService) WaitForCompletion(ctx context.Context, jobID string, sceneIndex int) error {
	s.mu.RLock()
	batch, ok := s.jobs[batchKey(jobID, sceneIndex)]
	s.mu.RUnlock()

	if !ok {
		return ErrBatchNotFound
	}

	select {
	case <-batch.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel 取消批次：停止发起新的图像调用，未开始的槽位写入取消终态
// 已在途的调用运行到结算为止
func (s *StoryboardService) Cancel(jobID string, sceneIndex int) error {
	s.mu.RLock()
	batch, ok := s.jobs[batchKey(jobID, sceneIndex)]
	s.mu.RUnlock()

	if !ok {
		return ErrBatchNotFound
	}

	batch.mu.Lock()
	batch.cancelled = true
	batch.mu.Unlock()

	utils.GetLogger().Info("Storyboard generation cancelled", map[string]interface{}{
		"job_id":      jobID,
		"scene_index": sceneIndex,
	})

	return nil
}

// RegenerateItem 重新生成单个槽位
// 只重置目标槽位，total 和其他槽位不受影响；同一槽位的并发重生成被槽位锁串行化
func (s *StoryboardService) RegenerateItem(ctx context.Context, jobID string, sceneIndex, shotIndex int, modText string) (*models.StoryboardFrame, error) {
	s.mu.RLock()
	batch, ok := s.jobs[batchKey(jobID, sceneIndex)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBatchNotFound
	}

	if shotIndex < 0 || shotIndex >= len(batch.Shots) {
		return nil, ErrInvalidIndex
	}

	if strings.TrimSpace(modText) == "" {
		return nil, ErrEmptyModification
	}

	return s.regenerateSlot(ctx, batch, shotIndex, modText)
}

// regenerateSlot 重置并同步重新结算一个槽位
func (s *StoryboardService) regenerateSlot(ctx context.Context, batch *GenerationBatch, shotIndex int, modText string) (*models.StoryboardFrame, error) {
	// 上次因策略被拒的槽位直接走激进净化
	// 旧帧保留到新帧结算为止，completed 不会回退
	batch.mu.RLock()
	aggressive := batch.Frames[shotIndex] != nil &&
		batch.Frames[shotIndex].ImageData == models.FrameErrContentPolicy
	batch.mu.RUnlock()

	s.generateSlot(ctx, batch, shotIndex, modText, aggressive)

	batch.mu.RLock()
	frame := batch.Frames[shotIndex]
	batch.mu.RUnlock()

	frameCopy := *frame
	return &frameCopy, nil
}

// RetryAllFailed 对当前所有错误槽位各发起一次重新生成，返回重试数量
func (s *StoryboardService) RetryAllFailed(ctx context.Context, jobID string, sceneIndex int) (int, error) {
	s.mu.RLock()
	batch, ok := s.jobs[batchKey(jobID, sceneIndex)]
	s.mu.RUnlock()

	if !ok {
		return 0, ErrBatchNotFound
	}

	batch.mu.RLock()
	var failed []int
	for i, f := range batch.Frames {
		if f != nil && f.IsError() {
			failed = append(failed, i)
		}
	}
	batch.mu.RUnlock()

	for _, index := range failed {
		if _, err := s.regenerateSlot(ctx, batch, index, ""); err != nil {
			return 0, err
		}
	}

	return len(failed), nil
}
