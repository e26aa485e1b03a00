// internal/llm/providers/openrouter/openrouter.go
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Corphon/RoleRealm/internal/llm"
)

const (
	providerName   = "OpenRouter"
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "mistralai/mistral-nemo"
	defaultReferer = "https://github.com/Corphon/RoleRealm"
	defaultTitle   = "RoleRealm"

	// 错误响应体只保留前 4KB
	maxErrorBody = 4096
)

func init() {
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{baseURL: defaultBaseURL}
	})
}

// Provider OpenRouter 的 chat/completions 接口
type Provider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	referer      string
	title        string
	client       *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"` // 实际路由到的模型
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Initialize 读取 api_key、default_model、base_url、http_referer、app_name
func (p *Provider) Initialize(config map[string]string) error {
	if config["api_key"] == "" {
		return errors.New("OpenRouter API密钥未提供")
	}
	p.apiKey = config["api_key"]
	p.defaultModel = valueOr(config["default_model"], defaultModel)
	p.baseURL = valueOr(config["base_url"], valueOr(p.baseURL, defaultBaseURL))
	p.referer = valueOr(config["http_referer"], defaultReferer)
	p.title = valueOr(config["app_name"], defaultTitle)
	// 超时由调用方的 context 控制
	p.client = &http.Client{}
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (p *Provider) GetName() string {
	return providerName
}

func (p *Provider) GetSupportedModels() []string {
	return []string{
		defaultModel,
		"meta-llama/llama-3.1-70b-instruct",
		"qwen/qwen3-235b-a22b:free",
		"nousresearch/hermes-3-llama-3.1-405b:free",
	}
}

func (p *Provider) buildRequest(req llm.CompletionRequest) chatRequest {
	body := chatRequest{
		Model:       valueOr(req.Model, p.defaultModel),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.StopWords,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	return body
}

// CompleteText 非2xx响应返回 *llm.APIError，由上层分类为拒绝或传输错误
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	payload, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("HTTP-Referer", p.referer)
	httpReq.Header.Set("X-Title", p.title)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &llm.APIError{Provider: providerName, StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析OpenRouter响应失败: %w", err)
	}
	// 上游模型出错时 OpenRouter 仍可能返回 200
	if decoded.Error != nil {
		return nil, &llm.APIError{Provider: providerName, StatusCode: decoded.Error.Code, Body: decoded.Error.Message}
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenRouter未返回任何结果")
	}

	choice := decoded.Choices[0]
	return &llm.CompletionResponse{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		TokensUsed:   decoded.Usage.TotalTokens,
		PromptTokens: decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
		ModelName:    decoded.Model,
		ProviderName: providerName,
	}, nil
}
