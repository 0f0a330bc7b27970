package providers

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

func TestToGeminiContents(t *testing.T) {
	ok, _ := models.NewToolSuccess("c1", map[string]any{"starters": 9})
	failed := models.NewToolFailure("c2", models.ToolErrorTimeout, "slow")
	messages := []models.Message{
		{Role: models.RoleUser, Content: "lineup?"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "get_roster", Arguments: json.RawMessage(`{"week":2}`)},
			{ID: "c2", Name: "get_player_news"},
		}},
		{Role: models.RoleTool, ToolResultFor: "c1", Result: ok},
		{Role: models.RoleTool, ToolResultFor: "c2", Result: failed},
		{Role: models.RoleUser, Content: "and?"},
	}
	out := toGeminiContents(messages)
	if len(out) != 3 {
		t.Fatalf("contents = %d, want 3 (user, model, merged user)", len(out))
	}
	if out[1].Role != genai.RoleModel || len(out[1].Parts) != 2 {
		t.Fatalf("model content = %+v", out[1])
	}
	if got := out[1].Parts[0].FunctionCall.Args["week"]; got != float64(2) {
		t.Fatalf("args = %v", out[1].Parts[0].FunctionCall.Args)
	}
	merged := out[2]
	if merged.Role != genai.RoleUser || len(merged.Parts) != 3 {
		t.Fatalf("merged content = %+v", merged)
	}
	first := merged.Parts[0].FunctionResponse
	if first.Name != "get_roster" || first.Response["starters"] != float64(9) {
		t.Fatalf("first response = %+v", first)
	}
	second := merged.Parts[1].FunctionResponse
	if second.Name != "get_player_news" || second.Response["error"] != true {
		t.Fatalf("second response = %+v", second)
	}
}

func TestToGeminiSchema(t *testing.T) {
	defs := []tools.Definition{{
		Name: "navigate_to_lineup",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"league_id": {"type": "string", "description": "league"},
				"week": {"type": ["integer", "null"]},
				"tags": {"type": "array", "items": {"type": "string", "enum": ["a", "b"]}}
			},
			"required": ["league_id"]
		}`),
	}}
	out := toGeminiTools(defs)
	if len(out) != 1 || len(out[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v", out)
	}
	schema := out[0].FunctionDeclarations[0].Parameters
	if schema.Type != genai.TypeObject || len(schema.Required) != 1 {
		t.Fatalf("schema = %+v", schema)
	}
	if schema.Properties["week"].Type != genai.TypeInteger {
		t.Fatalf("week type = %s", schema.Properties["week"].Type)
	}
	if items := schema.Properties["tags"].Items; items == nil || len(items.Enum) != 2 {
		t.Fatalf("tags items = %+v", items)
	}
}

func TestFromGeminiResponse(t *testing.T) {
	resp := fromGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "Sure. "},
			{FunctionCall: &genai.FunctionCall{Name: "get_roster"}},
		}}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 8, CandidatesTokenCount: 3},
	})
	if resp.Content != "Sure. " || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if string(resp.ToolCalls[0].Arguments) != "{}" {
		t.Fatalf("args = %s", resp.ToolCalls[0].Arguments)
	}
	if resp.InputTokens != 8 || resp.OutputTokens != 3 {
		t.Fatalf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}
