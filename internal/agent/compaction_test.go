package agent

import (
	"testing"

	"github.com/haasonsaas/gridiron/pkg/models"
)

func TestWindowCompactor(t *testing.T) {
	user := models.Message{Role: models.RoleUser, Content: "q"}
	call := models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c", Name: "x"}}}
	result := models.Message{Role: models.RoleTool, ToolResultFor: "c"}
	reply := models.Message{Role: models.RoleAssistant, Content: "a"}

	tests := []struct {
		name      string
		max       int
		messages  []models.Message
		wantLen   int
		wantFirst models.Role
		wantNote  bool
	}{
		{name: "disabled", max: 0, messages: []models.Message{user, reply, user}, wantLen: 3, wantFirst: models.RoleUser},
		{name: "under limit", max: 5, messages: []models.Message{user, reply}, wantLen: 2, wantFirst: models.RoleUser},
		{name: "trims oldest", max: 2, messages: []models.Message{user, reply, user, reply}, wantLen: 3, wantNote: true},
		{name: "skips leading tool result", max: 3, messages: []models.Message{user, call, result, reply, user}, wantLen: 3, wantNote: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WindowCompactor{MaxMessages: tt.max}.Compact(tt.messages)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d: %+v", len(got), tt.wantLen, got)
			}
			if tt.wantNote {
				if got[0].Role != models.RoleUser || got[0].Content == "q" {
					t.Fatalf("first message = %+v, want omission note", got[0])
				}
				if got[1].Role == models.RoleTool {
					t.Fatal("window starts on a tool result")
				}
			} else if got[0].Role != tt.wantFirst {
				t.Fatalf("first role = %s", got[0].Role)
			}
		})
	}
}
