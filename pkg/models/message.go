// Package models provides domain types for the gridiron dialogue engine.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's message log.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // assistant only

	// ToolResultFor references the ToolCall answered by a tool message.
	ToolResultFor string      `json:"tool_result_for,omitempty"`
	Result        *ToolResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasToolCalls reports whether an assistant message requested tools.
func (m *Message) HasToolCalls() bool {
	return m != nil && m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall represents the model's request to execute a tool.
// It is immutable once created.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Args decodes the call arguments into a key/value map.
// Empty arguments decode to an empty map.
func (c ToolCall) Args() (map[string]any, error) {
	out := map[string]any{}
	if len(c.Arguments) == 0 || string(c.Arguments) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(c.Arguments, &out); err != nil {
		return nil, fmt.Errorf("decode arguments for %s: %w", c.Name, err)
	}
	return out, nil
}

// ToolStatus is the outcome of a tool invocation.
type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

// ToolErrorKind classifies a failed tool invocation. Tool failures are data
// fed back to the model, never errors raised through the engine.
type ToolErrorKind string

const (
	ToolErrorTimeout          ToolErrorKind = "Timeout"
	ToolErrorHandlerFault     ToolErrorKind = "HandlerFault"
	ToolErrorPolicyViolation  ToolErrorKind = "PolicyViolation"
	ToolErrorInvalidArguments ToolErrorKind = "InvalidArguments"
	ToolErrorUnknownTool      ToolErrorKind = "UnknownTool"
)

// ToolResult is the uniform envelope produced by the dispatcher.
type ToolResult struct {
	RequestID string          `json:"request_id"`
	Status    ToolStatus      `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorKind ToolErrorKind   `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r *ToolResult) OK() bool {
	return r != nil && r.Status == ToolStatusOK
}

// NewToolSuccess builds an ok result, marshaling payload to JSON.
func NewToolSuccess(requestID string, payload any) (*ToolResult, error) {
	var raw json.RawMessage
	switch v := payload.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &ToolResult{RequestID: requestID, Status: ToolStatusOK, Payload: raw}, nil
}

// NewToolFailure builds an error result.
func NewToolFailure(requestID string, kind ToolErrorKind, message string) *ToolResult {
	return &ToolResult{
		RequestID: requestID,
		Status:    ToolStatusError,
		ErrorKind: kind,
		Message:   message,
	}
}

// Content renders the result as text for a model backend.
func (r *ToolResult) Content() string {
	if r == nil {
		return ""
	}
	if r.Status == ToolStatusOK {
		return string(r.Payload)
	}
	data, err := json.Marshal(map[string]string{
		"error_kind": string(r.ErrorKind),
		"message":    r.Message,
	})
	if err != nil {
		return r.Message
	}
	return string(data)
}
