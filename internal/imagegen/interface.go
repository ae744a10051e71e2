// internal/imagegen/interface.go
package imagegen

import (
	"context"
	"errors"
	"strings"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的图像提供者")
	// ErrPolicyRejected 提供商因内容安全策略拒绝生成
	ErrPolicyRejected = errors.New("图像提供商拒绝了该提示词")
)

// ImageRequest 图像生成请求标准化
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Size        string `json:"size,omitempty"`
}

// ImageResponse 图像生成响应标准化
type ImageResponse struct {
	// ImageBase64 base64 编码的图像数据
	ImageBase64  string `json:"image_base64"`
	MIMEType     string `json:"mime_type,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// Provider 定义所有图像生成提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 文生图
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// IsPolicyRejection 判断错误是否为内容安全策略拒绝
func IsPolicyRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPolicyRejected) {
		return true
	}

	// 提供商错误消息启发式匹配
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "safety") ||
		strings.Contains(msg, "content_policy") ||
		strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "blocked") ||
		strings.Contains(msg, "prohibited")
}

// 注册表和工厂函数类型
type ProviderFactory func() Provider

var providers = make(map[string]ProviderFactory)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider 创建指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	err := provider.Initialize(config)
	return provider, err
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
