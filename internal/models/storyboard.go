// internal/models/storyboard.go
package models

import "time"

// 图像槽位的保留错误哨兵值
// ImageData 要么是有效的图像负载（base64编码），要么恰好是以下常量之一，
// 消费方可以据此在一个封闭集合上分支
const (
	FrameErrGeneration    = "GENERATION_ERROR"
	FrameErrContentPolicy = "CONTENT_POLICY_ERROR"
	FrameErrProcessing    = "PROCESSING_ERROR"
	FrameErrStorage       = "STORAGE_FAILED"
	FrameErrCancelled     = "CANCELLED"
)

// frameErrorSentinels 所有保留哨兵的集合
var frameErrorSentinels = map[string]bool{
	FrameErrGeneration:    true,
	FrameErrContentPolicy: true,
	FrameErrProcessing:    true,
	FrameErrStorage:       true,
	FrameErrCancelled:     true,
}

// IsFrameErrorSentinel 判断 ImageData 取值是否为保留的错误哨兵
func IsFrameErrorSentinel(v string) bool {
	return frameErrorSentinels[v]
}

// StoryboardFrame 表示一个镜头的生成结果（成功或失败）
// ShotIndex 是镜头在场景镜头数组中的位置，也是重新生成时的寻址键
type StoryboardFrame struct {
	ShotIndex   int       `json:"shot_index"`
	ImageData   string    `json:"image_data"`
	PromptUsed  string    `json:"prompt_used"`
	GeneratedAt time.Time `json:"generated_at"`
}

// IsError 判断帧是否处于错误终态
func (f *StoryboardFrame) IsError() bool {
	return IsFrameErrorSentinel(f.ImageData)
}

// GenerationStatus 批次的整体状态
type GenerationStatus string

const (
	GenerationNotStarted GenerationStatus = "not_started"
	GenerationRunning    GenerationStatus = "generating"
	GenerationDone       GenerationStatus = "done"
	GenerationCancelled  GenerationStatus = "cancelled"
)

// GenerationProgress 进度快照，轮询读取的只读结果
// Completed 统计处于终态（成功或错误哨兵）的槽位数，单调不减：
// 重新生成单个槽位时旧帧保留在原位，直到新结果结算后原地覆盖
type GenerationProgress struct {
	JobID      string             `json:"job_id"`
	SceneIndex int                `json:"scene_index"`
	Status     GenerationStatus   `json:"status"`
	Total      int                `json:"total"`
	Completed  int                `json:"completed"`
	Items      []*StoryboardFrame `json:"items"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Done 判断批次是否全部结算
func (p *GenerationProgress) Done() bool {
	return p.Total > 0 && p.Completed == p.Total
}

// StoryboardRecord 持久化的分镜批次记录，按 (jobID, sceneIndex) 存取
type StoryboardRecord struct {
	JobID      string             `json:"job_id"`
	SceneIndex int                `json:"scene_index"`
	Shots      []Shot             `json:"shots"`
	Frames     []*StoryboardFrame `json:"frames"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
