package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

// Model is the reasoning service. Implementations must be safe for
// concurrent use; they retry transient failures themselves.
type Model interface {
	Name() string
	Invoke(ctx context.Context, req ModelRequest) (*AssistantResponse, error)
}

// ModelRequest is one model invocation.
type ModelRequest struct {
	System   string
	Messages []models.Message
	Tools    []tools.Definition
}

// AssistantResponse is the model's reply: text, tool calls, or both.
type AssistantResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	InputTokens  int
	OutputTokens int
}

// ContextProvider resolves the thread's external context (league, roster,
// week) into structured data for the system prompt.
type ContextProvider interface {
	Fetch(ctx context.Context, external map[string]any) (map[string]any, error)
}

// ContextProviderFunc adapts a function to ContextProvider.
type ContextProviderFunc func(ctx context.Context, external map[string]any) (map[string]any, error)

func (f ContextProviderFunc) Fetch(ctx context.Context, external map[string]any) (map[string]any, error) {
	return f(ctx, external)
}

// PromptFunc builds the system prompt from fetched context, which may be nil.
type PromptFunc func(structured map[string]any) string

// ToolDispatcher runs tool calls and describes the available tools.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, calls []models.ToolCall) []*models.ToolResult
	Definitions() []tools.Definition
}

// DefaultPrompt appends the context as JSON to a generic instruction.
func DefaultPrompt(structured map[string]any) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Use the available tools when they help answer the user.")
	if len(structured) > 0 {
		if data, err := json.MarshalIndent(structured, "", "  "); err == nil {
			b.WriteString("\n\nContext:\n")
			b.Write(data)
		}
	}
	return b.String()
}
