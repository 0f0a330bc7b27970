package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/backoff"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// Google invokes Gemini models through the Gen AI SDK.
type Google struct {
	client    *genai.Client
	model     string
	maxTokens int
	retry     backoff.Retrier
}

// NewGoogle creates a Gemini provider.
func NewGoogle(ctx context.Context, config GoogleConfig) (*Google, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &Google{
		client:    client,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		retry:     newRetrier(config.MaxRetries, config.RetryDelay),
	}, nil
}

func (p *Google) Name() string {
	return "google/" + p.model
}

func (p *Google) Invoke(ctx context.Context, req agent.ModelRequest) (*agent.AssistantResponse, error) {
	contents := toGeminiContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if p.maxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(p.maxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}

	var out *genai.GenerateContentResponse
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
		if err != nil {
			return p.wrapError(err)
		}
		out = resp
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return fromGeminiResponse(out), nil
}

func fromGeminiResponse(out *genai.GenerateContentResponse) *agent.AssistantResponse {
	resp := &agent.AssistantResponse{}
	if out == nil {
		return resp
	}
	if out.UsageMetadata != nil {
		resp.InputTokens = int(out.UsageMetadata.PromptTokenCount)
		resp.OutputTokens = int(out.UsageMetadata.CandidatesTokenCount)
	}
	var text strings.Builder
	for _, candidate := range out.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text.WriteString(part.Text)
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || part.FunctionCall.Args == nil {
					args = []byte("{}")
				}
				// Gemini may omit call ids; the engine assigns them.
				resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			}
		}
		break
	}
	resp.Content = text.String()
	return resp
}

func toGeminiContents(messages []models.Message) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		switch msg.Role {
		case models.RoleUser:
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
		case models.RoleAssistant:
			content.Role = genai.RoleModel
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: argsMap(call.Arguments)},
				})
			}
		case models.RoleTool:
			response := map[string]any{}
			text := toolText(msg)
			if err := json.Unmarshal([]byte(text), &response); err != nil || toolFailed(msg) {
				response = map[string]any{"result": text, "error": toolFailed(msg)}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolResultFor,
					Name:     toolNameFor(msg.ToolResultFor, messages),
					Response: response,
				},
			})
		}
		if len(content.Parts) == 0 {
			continue
		}
		// Consecutive same-role turns are merged.
		if n := len(out); n > 0 && out[n-1].Role == content.Role {
			out[n-1].Parts = append(out[n-1].Parts, content.Parts...)
			continue
		}
		out = append(out, content)
	}
	return out
}

func toGeminiTools(defs []tools.Definition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  toGeminiSchema(schemaMap(def.Schema)),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON schema object to Gemini's schema subset.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	switch t := schema["type"].(type) {
	case string:
		out.Type = genai.Type(strings.ToUpper(t))
	case []any:
		// ["string","null"] style unions: first non-null type wins.
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				out.Type = genai.Type(strings.ToUpper(s))
				break
			}
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGeminiSchema(items)
	}
	return out
}

func (p *Google) wrapError(err error) error {
	providerErr := NewProviderError("google", p.model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated"):
		providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403") || strings.Contains(msg, "permission denied"):
		providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted"):
		providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "503"):
		providerErr.WithStatus(http.StatusServiceUnavailable)
	case strings.Contains(msg, "500"):
		providerErr.WithStatus(http.StatusInternalServerError)
	}
	return providerErr
}
