// Package providers adapts hosted model APIs to agent.Model. Each provider
// converts the thread's message log to its wire format, retries transient
// failures with backoff and classifies errors for failover.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/backoff"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that carry nothing before
// a stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	// Model defaults to claude-sonnet-4-20250514.
	Model string
	// MaxTokens caps output tokens. Default: 4096.
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// Anthropic invokes Claude through the Messages streaming API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	retry     backoff.Retrier
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(options...),
		model:     config.Model,
		maxTokens: config.MaxTokens,
		retry:     newRetrier(config.MaxRetries, config.RetryDelay),
	}, nil
}

func (p *Anthropic) Name() string {
	return "anthropic/" + p.model
}

// Invoke sends the conversation and collects the streamed reply.
func (p *Anthropic) Invoke(ctx context.Context, req agent.ModelRequest) (*agent.AssistantResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, NewProviderError("anthropic", p.model, err).WithMessage(err.Error())
	}
	var resp *agent.AssistantResponse
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		out, err := p.collect(stream)
		if err != nil {
			return p.wrapError(err)
		}
		resp = out
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return resp, nil
}

func (p *Anthropic) params(req agent.ModelRequest) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		defs, err := toAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = defs
	}
	return params, nil
}

func (p *Anthropic) collect(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) (*agent.AssistantResponse, error) {
	resp := &agent.AssistantResponse{}
	var text strings.Builder
	var current *models.ToolCall
	var input strings.Builder
	empty := 0

	for stream.Next() {
		event := stream.Current()
		processed := true
		switch event.Type {
		case "message_start":
			resp.InputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				input.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				input.WriteString(delta.PartialJSON)
			default:
				processed = false
			}
		case "content_block_stop":
			if current != nil {
				raw := strings.TrimSpace(input.String())
				if raw == "" {
					raw = "{}"
				}
				if !json.Valid([]byte(raw)) {
					return nil, fmt.Errorf("tool %s: %w", current.Name, errTruncated)
				}
				current.Arguments = json.RawMessage(raw)
				resp.ToolCalls = append(resp.ToolCalls, *current)
				current = nil
			}
		case "message_delta":
			resp.OutputTokens = int(event.AsMessageDelta().Usage.OutputTokens)
		case "message_stop":
			resp.Content = text.String()
			return resp, nil
		case "error":
			return nil, errors.New("anthropic stream error")
		default:
			processed = false
		}
		if processed {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyStreamEvents {
			return nil, fmt.Errorf("stream appears malformed: %d consecutive empty events", empty)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	resp.Content = text.String()
	return resp, nil
}

// toAnthropicMessages converts the log, merging consecutive messages of the
// same role so tool results for one round share a single user message.
func toAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	var blocks []anthropic.ContentBlockParamUnion
	assistant := false

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if assistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, msg := range messages {
		isAssistant := msg.Role == models.RoleAssistant
		if isAssistant != assistant {
			flush()
			assistant = isAssistant
		}
		switch msg.Role {
		case models.RoleTool:
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolResultFor, toolText(msg), toolFailed(msg)))
		case models.RoleAssistant:
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, argsMap(call.Arguments), call.Name))
			}
		case models.RoleUser:
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	flush()
	return out, nil
}

func toAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		out = append(out, param)
	}
	return out, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *Anthropic) wrapError(err error) error {
	if _, ok := GetProviderError(err); ok {
		return err
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError("anthropic", p.model, err)
	}
	providerErr := (&ProviderError{Provider: "anthropic", Model: p.model, Cause: err, Reason: FailoverUnknown}).
		WithStatus(apiErr.StatusCode)
	providerErr.RequestID = apiErr.RequestID
	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Message != "" {
			providerErr.WithMessage(payload.Error.Message)
		}
		if payload.Error.Type != "" {
			providerErr.WithCode(payload.Error.Type)
		}
		if payload.RequestID != "" {
			providerErr.WithRequestID(payload.RequestID)
		}
	}
	if providerErr.Message == "" {
		providerErr.Message = "anthropic request failed"
	}
	return providerErr
}
