package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func anthropicAgainst(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := anthropic.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	return &AnthropicProvider{client: &client, model: "claude-haiku-4-5-20251001"}
}

func openAIAgainst(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	conf := openai.DefaultConfig("test-key")
	conf.BaseURL = srv.URL + "/v1"
	return &OpenAIProvider{client: openai.NewClientWithConfig(conf), model: "gpt-4o-mini"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestAnthropicProviderReturnsValidatedContent(t *testing.T) {
	p := anthropicAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant",
			"content":     []map[string]any{{"type": "text", "text": `{"reply":"pong"}`}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 12, "output_tokens": 4},
		})
	})

	resp, err := p.Generate(context.Background(), Request{
		System:    "reply with pong",
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		Schema:    pingSchema,
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"reply":"pong"}`, string(resp.Content))
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestAnthropicProviderMapsRateLimit(t *testing.T) {
	p := anthropicAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"type": "error", "error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "ping"}}, MaxTokens: 16})
	var rl *ErrRateLimit
	assert.ErrorAs(t, err, &rl)
}

func TestOpenAIProviderRejectsSchemaViolations(t *testing.T) {
	p := openAIAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"count":3}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8},
		})
	})

	_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "ping"}}, Schema: pingSchema})
	var inv *ErrInvalidResponse
	assert.ErrorAs(t, err, &inv)
}

func TestOpenAIProviderMapsServerError(t *testing.T) {
	p := openAIAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{"message": "upstream", "type": "server_error"},
		})
	})

	_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "ping"}}})
	var unavailable *ErrProviderUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestLoggingProviderRecordsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"reply":"pong"}`), Usage: Usage{InputTokens: 3, OutputTokens: 2}},
		MockResponse{Err: &ErrProviderUnavailable{}},
	)
	p := WithLogging(mock, ProviderMock, zap.New(core))
	ctx := WithPurpose(context.Background(), "next-step")

	_, err := p.Generate(ctx, Request{})
	require.NoError(t, err)
	_, err = p.Generate(ctx, Request{})
	require.Error(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "llm request", entries[0].Message)
	assert.Equal(t, "next-step", entries[0].ContextMap()["purpose"])
	assert.Equal(t, int64(3), entries[0].ContextMap()["input_tokens"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNewProviderRequiresCredentials(t *testing.T) {
	_, err := NewProvider(context.Background(), DefaultConfig(), zap.NewNop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Provider = ProviderMock
	p, err := NewProvider(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "mock", p.ModelID())
}

func TestResolveModelAliases(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-20250514", resolveModel("claude-sonnet", anthropicAliases))
	assert.Equal(t, "gemini-2.0-flash", resolveModel("gemini-flash", geminiAliases))
	assert.Equal(t, "custom-model", resolveModel("custom-model", anthropicAliases))
}
