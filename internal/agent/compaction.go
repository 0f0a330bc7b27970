package agent

import (
	"fmt"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// Compactor bounds the message log sent to the model. It works on a copy;
// the persisted log is never truncated.
type Compactor interface {
	Compact(messages []models.Message) []models.Message
}

// CompactorFunc adapts a function to Compactor.
type CompactorFunc func(messages []models.Message) []models.Message

func (f CompactorFunc) Compact(messages []models.Message) []models.Message {
	return f(messages)
}

// NoCompaction sends the full log.
var NoCompaction Compactor = CompactorFunc(func(m []models.Message) []models.Message { return m })

// WindowCompactor keeps the newest MaxMessages messages. The window never
// starts on a tool message, so a tool result is never sent without the
// assistant message that requested it. Elided messages are replaced by one
// user note saying how many were dropped.
type WindowCompactor struct {
	MaxMessages int
}

func (w WindowCompactor) Compact(messages []models.Message) []models.Message {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages
	}
	start := len(messages) - w.MaxMessages
	for start < len(messages) && messages[start].Role == models.RoleTool {
		start++
	}
	// A window made only of tool results would have nothing to anchor it.
	if start == len(messages) {
		start = len(messages) - w.MaxMessages
		for start > 0 && messages[start].Role == models.RoleTool {
			start--
		}
	}
	if start == 0 {
		return messages
	}

	out := make([]models.Message, 0, len(messages)-start+1)
	out = append(out, models.Message{
		Role:    models.RoleUser,
		Content: fmt.Sprintf("[%d earlier messages omitted from this conversation]", start),
	})
	return append(out, messages[start:]...)
}
