package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Corphon/RoleRealm/internal/config"
	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/llm"
	"github.com/Corphon/RoleRealm/internal/models"
)

// stubProvider 返回预设响应的提供者
type stubProvider struct {
	resp    *llm.CompletionResponse
	err     error
	block   bool
	lastReq llm.CompletionRequest
}

func (p *stubProvider) Initialize(map[string]string) error { return nil }
func (p *stubProvider) GetName() string                    { return "stub" }
func (p *stubProvider) GetSupportedModels() []string       { return []string{"stub-1"} }

func (p *stubProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.lastReq = req
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.resp, p.err
}

func sampleTurnContext() *models.TurnContext {
	return &models.TurnContext{
		ActorID:   "jack",
		ActorName: "Jack",
		Persona:   models.ContextEntry{Role: models.ContextPersona, Content: "You are Jack (jack)."},
		Scene:     &models.ContextEntry{Role: models.ContextScene, Content: "Current scene: Ship Deck"},
		History: []models.ContextEntry{
			{Role: models.ContextHistory, Seq: 1, Content: "[scene: deck] Ship Deck"},
			{Role: models.ContextHistory, Seq: 2, Content: "Alex: hello"},
		},
	}
}

func TestGenerateBuildsPrompts(t *testing.T) {
	provider := &stubProvider{resp: &llm.CompletionResponse{Text: "Ahoy!", FinishReason: "stop"}}
	service := NewLLMServiceWithProvider(provider, "stub-1")

	text, err := service.Generate(context.Background(), sampleTurnContext())
	if err != nil || text != "Ahoy!" {
		t.Fatalf("Generate = %q, %v", text, err)
	}
	if !strings.HasPrefix(provider.lastReq.SystemPrompt, "You are Jack (jack).\n\nCurrent scene: Ship Deck") {
		t.Fatalf("unexpected system prompt: %q", provider.lastReq.SystemPrompt)
	}
	if provider.lastReq.Prompt != "[scene: deck] Ship Deck\nAlex: hello\nJack:" {
		t.Fatalf("unexpected prompt: %q", provider.lastReq.Prompt)
	}
	if provider.lastReq.Model != "stub-1" {
		t.Fatalf("model not forwarded: %q", provider.lastReq.Model)
	}
}

func TestGenerateClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		want     apperrors.ErrorType
	}{
		{"forbidden", &stubProvider{err: &llm.APIError{Provider: "stub", StatusCode: http.StatusForbidden}}, apperrors.ErrorTypeGenerationRefused},
		{"filtered body", &stubProvider{err: &llm.APIError{Provider: "stub", StatusCode: 400, Body: `{"error":"CONTENT_FILTER"}`}}, apperrors.ErrorTypeGenerationRefused},
		{"filtered finish", &stubProvider{resp: &llm.CompletionResponse{FinishReason: llm.FinishReasonContentFilter}}, apperrors.ErrorTypeGenerationRefused},
		{"empty truncated", &stubProvider{resp: &llm.CompletionResponse{Text: " ", FinishReason: "length"}}, apperrors.ErrorTypeGenerationRefused},
		{"server error", &stubProvider{err: &llm.APIError{Provider: "stub", StatusCode: 502}}, apperrors.ErrorTypeGenerationTransport},
		{"network", &stubProvider{err: errors.New("connection reset")}, apperrors.ErrorTypeGenerationTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewLLMServiceWithProvider(tt.provider, "stub-1")
			_, err := service.Generate(context.Background(), sampleTurnContext())
			if got, ok := apperrors.TypeOf(err); !ok || got != tt.want {
				t.Fatalf("error type = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	service := NewLLMServiceWithProvider(&stubProvider{block: true}, "stub-1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := service.Generate(ctx, sampleTurnContext())
	if got, _ := apperrors.TypeOf(err); got != apperrors.ErrorTypeGenerationTimeout {
		t.Fatalf("expected generation timeout, got %v", err)
	}
}

func TestGenerateEmptyStopIsDecline(t *testing.T) {
	service := NewLLMServiceWithProvider(&stubProvider{resp: &llm.CompletionResponse{Text: "", FinishReason: "stop"}}, "stub-1")
	text, err := service.Generate(context.Background(), sampleTurnContext())
	if err != nil || text != "" {
		t.Fatalf("expected empty decline, got %q, %v", text, err)
	}
}

func TestLLMServiceNotReadyWithoutKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLMAPIKey = ""
	service := NewLLMService(cfg)
	if service.IsReady() {
		t.Fatal("service without API key should not be ready")
	}
	_, err := service.Generate(context.Background(), sampleTurnContext())
	if got, _ := apperrors.TypeOf(err); got != apperrors.ErrorTypeGenerationTransport || !errors.Is(err, ErrLLMNotReady) {
		t.Fatalf("expected transport error wrapping ErrLLMNotReady, got %v", err)
	}
}
