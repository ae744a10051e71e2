// internal/models/script.go
package models

import "time"

// ParseMode 剧本解析模式
type ParseMode string

const (
	// ParseModeAI 走大模型结构化抽取
	ParseModeAI ParseMode = "ai"
	// ParseModePreview 纯启发式快速预览，不调用模型
	ParseModePreview ParseMode = "preview"
)

// ParseOptions 解析请求的可调参数
type ParseOptions struct {
	Mode      ParseMode    `json:"mode"`
	Fields    []SceneField `json:"fields,omitempty"`
	PageLimit int          `json:"page_limit,omitempty"`
}

// Script 一份已解析剧本的持久化记录
type Script struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	RawText   string    `json:"raw_text,omitempty"`
	Scenes    []Scene   `json:"scenes"`
	Mode      ParseMode `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SceneCount 场景数
func (s *Script) SceneCount() int {
	return len(s.Scenes)
}
