// internal/imagegen/providers/google/google.go
package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/Corphon/StoryboardForge/internal/imagegen"
)

func init() {
	imagegen.Register("google", func() imagegen.Provider {
		return &Provider{
			recommendedModels: []string{
				"gemini-2.5-flash-image",
				"gemini-2.0-flash-preview-image-generation",
			},
		}
	})
}

type Provider struct {
	apiKey            string
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("google api密钥未提供")
	}

	p.apiKey = apiKey

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gemini-2.5-flash-image"
	}

	return nil
}

func (p *Provider) GetName() string {
	return "Google Gemini Image"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) GenerateImage(ctx context.Context, req imagegen.ImageRequest) (*imagegen.ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建genai客户端失败: %w", err)
	}

	content := &genai.Content{
		Parts: []*genai.Part{
			genai.NewPartFromText(req.Prompt),
		},
	}

	result, err := client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{content},
		&genai.GenerateContentConfig{
			ImageConfig: &genai.ImageConfig{
				AspectRatio: aspectRatio,
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini图像生成失败: %w", err)
	}

	if len(result.Candidates) == 0 {
		// 无候选通常意味着提示词被安全策略拦截
		return nil, imagegen.ErrPolicyRejected
	}

	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			// 图像以 InlineData 返回
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &imagegen.ImageResponse{
					ImageBase64:  base64.StdEncoding.EncodeToString(part.InlineData.Data),
					MIMEType:     part.InlineData.MIMEType,
					ModelName:    model,
					ProviderName: p.GetName(),
				}, nil
			}
		}
	}

	return nil, imagegen.ErrPolicyRejected
}
