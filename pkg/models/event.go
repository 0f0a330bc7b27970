package models

import "time"

// EventType identifies the kind of caller-visible progress event.
type EventType string

const (
	// EventStatus is human-readable, non-terminal progress.
	EventStatus EventType = "status"
	// EventResponse carries the final answer and ends the turn.
	EventResponse EventType = "response"
	// EventError reports a failed turn and ends it.
	EventError EventType = "error"
	// EventMetadata carries out-of-band info such as the resolved thread id.
	EventMetadata EventType = "metadata"
)

// TurnErrorKind classifies fatal turn failures carried on error events.
type TurnErrorKind string

const (
	TurnErrorConflict          TurnErrorKind = "conflict"
	TurnErrorModelInvocation   TurnErrorKind = "ModelInvocationFailure"
	TurnErrorTurnLimitExceeded TurnErrorKind = "TurnLimitExceeded"
	TurnErrorCancelled         TurnErrorKind = "Cancelled"
	TurnErrorInternal          TurnErrorKind = "Internal"
)

// Event is one entry of a turn's ordered event stream.
type Event struct {
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	ThreadID  string         `json:"thread_id,omitempty"`
	ErrorKind TurnErrorKind  `json:"error_kind,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	// Sequence is monotonic within a turn.
	Sequence uint64    `json:"seq"`
	Time     time.Time `json:"time"`
}

// Terminal reports whether the event ends its turn.
func (e Event) Terminal() bool {
	return e.Type == EventResponse || e.Type == EventError
}
