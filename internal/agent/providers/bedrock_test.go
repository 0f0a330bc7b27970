package providers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/pkg/models"
)

type fakeConverser struct {
	inputs  []*bedrockruntime.ConverseInput
	outputs []*bedrockruntime.ConverseOutput
	errs    []error
}

func (f *fakeConverser) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	i := len(f.inputs)
	f.inputs = append(f.inputs, in)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.outputs[i], nil
}

func TestBedrockInvoke(t *testing.T) {
	fake := &fakeConverser{
		errs: []error{&smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}},
		outputs: []*bedrockruntime.ConverseOutput{nil, {
			Output: &types.ConverseOutputMemberMessage{Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: "Let me look."},
					&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
						ToolUseId: aws.String("tu1"),
						Name:      aws.String("get_roster"),
						Input:     document.NewLazyDocument(map[string]any{"week": 4}),
					}},
				},
			}},
			Usage: &types.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(6)},
		}},
	}
	p := newBedrockWithClient(fake, BedrockConfig{Model: "m", MaxRetries: 2, RetryDelay: time.Millisecond})

	resp, err := p.Invoke(context.Background(), agent.ModelRequest{
		System:   "sys",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(fake.inputs) != 2 {
		t.Fatalf("throttled call not retried; calls = %d", len(fake.inputs))
	}
	if resp.Content != "Let me look." || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	var args map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &args); err != nil || args["week"] != float64(4) {
		t.Fatalf("args = %s (%v)", resp.ToolCalls[0].Arguments, err)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 6 {
		t.Fatalf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestBedrockAccessDeniedFailsOver(t *testing.T) {
	fake := &fakeConverser{errs: []error{&smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}}}
	p := newBedrockWithClient(fake, BedrockConfig{Model: "m", RetryDelay: time.Millisecond})
	_, err := p.Invoke(context.Background(), agent.ModelRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}})
	if !ShouldFailover(err) || IsRetryable(err) {
		t.Fatalf("err = %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("calls = %d", len(fake.inputs))
	}
}

func TestToBedrockMessagesMergesToolResults(t *testing.T) {
	failed := models.NewToolFailure("b", models.ToolErrorHandlerFault, "boom")
	out := toBedrockMessages([]models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "a", Name: "x"}, {ID: "b", Name: "y"}}},
		{Role: models.RoleTool, ToolResultFor: "a", Content: "plain"},
		{Role: models.RoleTool, ToolResultFor: "b", Result: failed},
	})
	if len(out) != 3 || len(out[2].Content) != 2 {
		t.Fatalf("messages = %+v", out)
	}
	result, ok := out[2].Content[1].(*types.ContentBlockMemberToolResult)
	if !ok || result.Value.Status != types.ToolResultStatusError {
		t.Fatalf("second result = %+v", out[2].Content[1])
	}
}
