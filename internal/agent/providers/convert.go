package providers

import (
	"encoding/json"
	"errors"

	"github.com/haasonsaas/gridiron/pkg/models"
)

var errTruncated = errors.New("model output truncated before tool arguments were complete")

// toolText is the content of a tool message sent back to a model.
func toolText(msg models.Message) string {
	if msg.Result != nil {
		return msg.Result.Content()
	}
	return msg.Content
}

func toolFailed(msg models.Message) bool {
	return msg.Result != nil && !msg.Result.OK()
}

// argsMap decodes tool call arguments, treating empty or invalid input as {}.
func argsMap(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// schemaMap decodes a tool schema, falling back to an empty object schema.
func schemaMap(raw json.RawMessage) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}

// toolNameFor finds the name of the call a tool message answers.
func toolNameFor(callID string, messages []models.Message) string {
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			if call.ID == callID {
				return call.Name
			}
		}
	}
	return ""
}
