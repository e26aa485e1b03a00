// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Corphon/RoleRealm/internal/config"
	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/llm"
	"github.com/Corphon/RoleRealm/internal/models"
)

// ErrLLMNotReady 未配置可用的提供者
var ErrLLMNotReady = errors.New("llm service not ready")

// Generator 生成协作者：给定组装好的上下文返回原始文本
type Generator interface {
	Generate(ctx context.Context, tc *models.TurnContext) (string, error)
}

// LLMService 基于 llm.Provider 的生成协作者
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	model         string
	readyState    string

	actionOpen  string
	actionClose string
	maxTokens   int
	temperature float32
}

// NewLLMService 从当前配置创建服务；提供者初始化失败时返回未就绪服务
func NewLLMService(cfg *config.Config) *LLMService {
	service := &LLMService{
		readyState:  "Uninitialized",
		actionOpen:  cfg.ActionOpen,
		actionClose: cfg.ActionClose,
		maxTokens:   400,
		temperature: 0.8,
	}

	if cfg.LLMAPIKey == "" {
		service.readyState = "API key not configured"
		return service
	}

	if err := service.UpdateProvider(cfg.LLMProvider, map[string]string{
		"api_key":       cfg.LLMAPIKey,
		"default_model": cfg.LLMModel,
		"base_url":      cfg.LLMBaseURL,
	}); err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
	}
	return service
}

// NewLLMServiceWithProvider 使用已初始化的提供者
func NewLLMServiceWithProvider(provider llm.Provider, model string) *LLMService {
	return &LLMService{
		provider:     provider,
		providerName: provider.GetName(),
		model:        model,
		readyState:   "Ready",
		actionOpen:   "*",
		actionClose:  "*",
		maxTokens:    400,
		temperature:  0.8,
	}
}

// UpdateProvider 切换提供者
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.provider = provider
	s.providerName = providerName
	s.model = cfg["default_model"]
	s.readyState = "Ready"
	return nil
}

// IsReady 是否已配置提供者
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetReadyState 就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// Generate 以人设和场景为系统提示、以历史为用户提示调用模型
func (s *LLMService) Generate(ctx context.Context, tc *models.TurnContext) (string, error) {
	s.providerMutex.RLock()
	provider := s.provider
	model := s.model
	s.providerMutex.RUnlock()

	if provider == nil {
		return "", apperrors.NewGenerationTransportError(s.GetReadyState(), ErrLLMNotReady)
	}

	req := llm.CompletionRequest{
		SystemPrompt: BuildSystemPrompt(tc, s.actionOpen, s.actionClose),
		Prompt:       BuildConversationPrompt(tc),
		Model:        model,
		MaxTokens:    s.maxTokens,
		Temperature:  s.temperature,
	}

	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return "", classifyGenerationError(ctx, err)
	}
	if resp.FinishReason == llm.FinishReasonContentFilter {
		return "", apperrors.NewGenerationRefusedError(fmt.Sprintf("%s 的生成被内容策略拦截", tc.ActorID), nil)
	}
	if strings.TrimSpace(resp.Text) == "" && resp.FinishReason != "stop" {
		return "", apperrors.NewGenerationRefusedError(fmt.Sprintf("%s 的生成结果为空", tc.ActorID), nil)
	}
	return resp.Text, nil
}

// classifyGenerationError 将提供者错误映射为超时/拒绝/传输错误
func classifyGenerationError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewGenerationTimeoutError("生成超时", err)
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden ||
		strings.Contains(strings.ToLower(apiErr.Body), llm.FinishReasonContentFilter)) {
		return apperrors.NewGenerationRefusedError("模型拒绝生成", err)
	}
	if apperrors.IsGenerationError(err) {
		return err
	}
	return apperrors.NewGenerationTransportError("生成调用失败", err)
}

// BuildSystemPrompt 人设块 + 场景块 + 输出格式约定
func BuildSystemPrompt(tc *models.TurnContext, actionOpen, actionClose string) string {
	var b strings.Builder
	b.WriteString(tc.Persona.Content)
	if tc.Scene != nil {
		b.WriteString("\n\n")
		b.WriteString(tc.Scene.Content)
	}
	fmt.Fprintf(&b, "\n\nStay in character as %s. Reply with one short turn. Wrap physical actions in %sasterisks%s; everything else is spoken aloud. Reply with nothing if %s would stay silent.",
		tc.ActorName, actionOpen, actionClose, tc.ActorName)
	return b.String()
}

// BuildConversationPrompt 按时间顺序拼接历史条目
func BuildConversationPrompt(tc *models.TurnContext) string {
	lines := make([]string, 0, len(tc.History)+1)
	for _, e := range tc.History {
		lines = append(lines, e.Content)
	}
	lines = append(lines, fmt.Sprintf("%s:", tc.ActorName))
	return strings.Join(lines, "\n")
}
