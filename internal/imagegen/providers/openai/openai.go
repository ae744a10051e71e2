// internal/imagegen/providers/openai/openai.go
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/StoryboardForge/internal/imagegen"
)

func init() {
	imagegen.Register("openai", func() imagegen.Provider {
		return &Provider{
			recommendedModels: []string{
				"gpt-image-1",
				"dall-e-3",
			},
			baseURL: "https://api.openai.com",
		}
	})
}

type Provider struct {
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("openai api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gpt-image-1"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI Images"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

func (p *Provider) GenerateImage(ctx context.Context, req imagegen.ImageRequest) (*imagegen.ImageResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	size := req.Size
	if size == "" {
		// 16:9 对应的最接近尺寸
		size = "1536x1024"
	}

	requestBody := map[string]interface{}{
		"model":  model,
		"prompt": req.Prompt,
		"n":      1,
		"size":   size,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		p.baseURL+"/v1/images/generations",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)

		// 400 + content_policy_violation 表示提示词被安全策略拒绝
		if httpResp.StatusCode == http.StatusBadRequest &&
			strings.Contains(string(body), "content_policy") {
			return nil, imagegen.ErrPolicyRejected
		}

		return nil, fmt.Errorf("openai images api错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}

	if len(response.Data) == 0 || response.Data[0].B64JSON == "" {
		return nil, errors.New("OpenAI未返回图像数据")
	}

	return &imagegen.ImageResponse{
		ImageBase64:  response.Data[0].B64JSON,
		MIMEType:     "image/png",
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}
