package models

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// InterruptedToolMessage is the error message recorded for tool calls whose
// results were lost when a turn was interrupted.
const InterruptedToolMessage = "tool call interrupted before completion"

// TurnState is the mutable payload checkpointed per thread.
type TurnState struct {
	ThreadID string         `json:"thread_id"`
	Context  map[string]any `json:"context,omitempty"`
	Messages []Message      `json:"messages"`

	// PendingToolCalls is non-empty only while a tool round is in flight.
	PendingToolCalls []ToolCall `json:"pending_tool_calls,omitempty"`

	// TurnCount counts model invocations in the current turn.
	TurnCount int       `json:"turn_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTurnState returns an empty state for a thread.
func NewTurnState(threadID string, context map[string]any) *TurnState {
	return &TurnState{
		ThreadID: threadID,
		Context:  context,
		Messages: []Message{},
	}
}

// Clone returns a copy of the state that shares no slices with the original.
// Context values are copied shallowly.
func (s *TurnState) Clone() *TurnState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Context = maps.Clone(s.Context)
	cp.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		msg.ToolCalls = slices.Clone(msg.ToolCalls)
		if msg.Result != nil {
			r := *msg.Result
			msg.Result = &r
		}
		cp.Messages[i] = msg
	}
	cp.PendingToolCalls = slices.Clone(s.PendingToolCalls)
	return &cp
}

// Append adds a message to the log, stamping its creation time.
func (s *TurnState) Append(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.CreatedAt
}

// UnansweredToolCalls returns the tool calls of the most recent assistant
// message that have no matching tool message yet.
func (s *TurnState) UnansweredToolCalls() []ToolCall {
	last := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || len(s.Messages[last].ToolCalls) == 0 {
		return nil
	}
	answered := make(map[string]bool)
	for _, msg := range s.Messages[last+1:] {
		if msg.Role == RoleTool {
			answered[msg.ToolResultFor] = true
		}
	}
	var open []ToolCall
	for _, call := range s.Messages[last].ToolCalls {
		if !answered[call.ID] {
			open = append(open, call)
		}
	}
	return open
}

// Repair answers tool calls left open by an interrupted turn with an error
// result so the pairing invariant holds before new messages are appended.
// Each repair message takes its ID from newID. It returns the number of
// calls it answered.
func (s *TurnState) Repair(newID func() string) int {
	open := s.UnansweredToolCalls()
	for _, call := range open {
		s.Append(Message{
			ID:            newID(),
			Role:          RoleTool,
			ToolResultFor: call.ID,
			Result:        NewToolFailure(call.ID, ToolErrorHandlerFault, InterruptedToolMessage),
		})
	}
	s.PendingToolCalls = nil
	return len(open)
}

// Validate checks the message log invariants: tool messages answer an open
// call of the preceding assistant message exactly once, and every call is
// answered before the next user or assistant message.
func (s *TurnState) Validate() error {
	open := map[string]bool{}
	for i, msg := range s.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant:
			if len(open) > 0 {
				return fmt.Errorf("message %d (%s): %d tool call(s) unanswered", i, msg.Role, len(open))
			}
			if msg.Role == RoleAssistant {
				for _, call := range msg.ToolCalls {
					if call.ID == "" {
						return fmt.Errorf("message %d: tool call without id", i)
					}
					if open[call.ID] {
						return fmt.Errorf("message %d: duplicate tool call id %q", i, call.ID)
					}
					open[call.ID] = true
				}
			}
		case RoleTool:
			if !open[msg.ToolResultFor] {
				return fmt.Errorf("message %d: tool result for unknown call %q", i, msg.ToolResultFor)
			}
			delete(open, msg.ToolResultFor)
		default:
			return fmt.Errorf("message %d: invalid role %q", i, msg.Role)
		}
	}
	if len(open) > 0 && len(s.PendingToolCalls) == 0 {
		return fmt.Errorf("%d tool call(s) unanswered with no pending round", len(open))
	}
	return nil
}

// AtRest reports whether no tool round is in flight.
func (s *TurnState) AtRest() bool {
	return len(s.PendingToolCalls) == 0 && len(s.UnansweredToolCalls()) == 0
}

// Checkpoint is a durable, versioned snapshot of one thread's TurnState.
type Checkpoint struct {
	ThreadID string     `json:"thread_id"`
	Version  int64      `json:"version"`
	State    *TurnState `json:"state"`
	SavedAt  time.Time  `json:"saved_at"`
}
