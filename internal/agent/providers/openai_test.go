package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

func TestOpenAIInvoke(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "get_roster", "arguments": "{\"week\":3}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	ok, _ := models.NewToolSuccess("prev", "fine")
	resp, err := p.Invoke(context.Background(), agent.ModelRequest{
		System: "sys",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "q"},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "prev", Name: "get_roster"}}},
			{Role: models.RoleTool, ToolResultFor: "prev", Result: ok},
		},
		Tools: []tools.Definition{{Name: "get_roster", Description: "roster", Schema: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || string(resp.ToolCalls[0].Arguments) != `{"week":3}` {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Fatalf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	if got.Model != "gpt-4o-mini" || len(got.Messages) != 4 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("first role = %s", got.Messages[0].Role)
	}
	if got.Messages[2].ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("empty arguments sent as %q", got.Messages[2].ToolCalls[0].Function.Arguments)
	}
	if got.Messages[3].Role != openai.ChatMessageRoleTool || got.Messages[3].ToolCallID != "prev" {
		t.Fatalf("tool message = %+v", got.Messages[3])
	}
}

func TestOpenAIRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	p, _ := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1", MaxRetries: 3, RetryDelay: time.Millisecond})
	resp, err := p.Invoke(context.Background(), agent.ModelRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 3 {
		t.Fatalf("content = %q after %d calls", resp.Content, calls.Load())
	}
}

func TestOpenAIBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad schema","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p, _ := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL + "/v1", RetryDelay: time.Millisecond})
	_, err := p.Invoke(context.Background(), agent.ModelRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}})
	providerErr, ok := GetProviderError(err)
	if !ok || providerErr.Reason != FailoverInvalidRequest {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
