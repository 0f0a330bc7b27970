package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/backoff"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

// BedrockConfig configures the Bedrock provider. Without static keys the
// default AWS credential chain is used.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	MaxTokens       int
	MaxRetries      int
	RetryDelay      time.Duration
}

// converser is the part of the Bedrock runtime client the provider uses.
type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock invokes models through the Bedrock Converse API.
type Bedrock struct {
	client    converser
	model     string
	maxTokens int
	retry     backoff.Retrier
}

// NewBedrock creates a Bedrock provider.
func NewBedrock(ctx context.Context, config BedrockConfig) (*Bedrock, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.Model == "" {
		config.Model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, config.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return newBedrockWithClient(bedrockruntime.NewFromConfig(awsCfg), config), nil
}

func newBedrockWithClient(client converser, config BedrockConfig) *Bedrock {
	return &Bedrock{
		client:    client,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		retry:     newRetrier(config.MaxRetries, config.RetryDelay),
	}
}

func (p *Bedrock) Name() string {
	return "bedrock/" + p.model
}

func (p *Bedrock) Invoke(ctx context.Context, req agent.ModelRequest) (*agent.AssistantResponse, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: toBedrockMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if p.maxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(min(p.maxTokens, 1<<31-1)))} // #nosec G115
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockTools(req.Tools)
	}

	var out *bedrockruntime.ConverseOutput
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := p.client.Converse(ctx, input)
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
	return fromBedrockOutput(out)
}

func fromBedrockOutput(out *bedrockruntime.ConverseOutput) (*agent.AssistantResponse, error) {
	resp := &agent.AssistantResponse{}
	if out == nil {
		return resp, nil
	}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp, nil
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *types.ContentBlockMemberToolUse:
			args := json.RawMessage("{}")
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return nil, fmt.Errorf("decode tool input for %s: %w", aws.ToString(b.Value.Name), err)
				}
				args = raw
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}
	resp.Content = text.String()
	return resp, nil
}

func toBedrockMessages(messages []models.Message) []types.Message {
	var out []types.Message
	for _, msg := range messages {
		role := types.ConversationRoleUser
		var content []types.ContentBlock
		switch msg.Role {
		case models.RoleUser:
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
		case models.RoleAssistant:
			role = types.ConversationRoleAssistant
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(argsMap(call.Arguments)),
					},
				})
			}
		case models.RoleTool:
			block := types.ToolResultBlock{
				ToolUseId: aws.String(msg.ToolResultFor),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: toolText(msg)}},
			}
			if toolFailed(msg) {
				block.Status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: block})
		}
		if len(content) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content...)
			continue
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func toBedrockTools(defs []tools.Definition) *types.ToolConfiguration {
	specs := make([]types.Tool, len(defs))
	for i, def := range defs {
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaMap(def.Schema))},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}
}

func (p *Bedrock) wrapError(err error) error {
	providerErr := NewProviderError("bedrock", p.model, err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr.WithMessage(apiErr.ErrorMessage())
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			providerErr.Reason = FailoverRateLimit
		case "AccessDeniedException", "UnrecognizedClientException":
			providerErr.Reason = FailoverAuth
		case "ResourceNotFoundException", "ModelNotReadyException":
			providerErr.Reason = FailoverModelUnavailable
		case "ValidationException":
			providerErr.Reason = FailoverInvalidRequest
		case "ServiceUnavailableException", "InternalServerException", "ModelErrorException":
			providerErr.Reason = FailoverServerError
		case "ModelTimeoutException":
			providerErr.Reason = FailoverTimeout
		}
		providerErr.Code = apiErr.ErrorCode()
	}
	return providerErr
}
