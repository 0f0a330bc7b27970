package agent

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/gridiron/pkg/models"
)

var (
	// ErrTurnLimit indicates the model kept requesting tools past the turn ceiling.
	ErrTurnLimit = errors.New("turn limit exceeded")

	// ErrNoModel indicates the engine was built without a model.
	ErrNoModel = errors.New("no model configured")
)

// TurnError is a fatal turn failure. It records the phase the turn was in
// and how many model invocations had happened.
type TurnError struct {
	Kind      models.TurnErrorKind
	Phase     Phase
	TurnCount int
	Message   string
	Cause     error
}

func (e *TurnError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("%s at %s (model call %d): %s", e.Kind, e.Phase, e.TurnCount, msg)
}

func (e *TurnError) Unwrap() error {
	return e.Cause
}

// KindOf returns the turn error kind of err, or Internal.
func KindOf(err error) models.TurnErrorKind {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr.Kind
	}
	return models.TurnErrorInternal
}

// Phase is a step of the turn state machine.
type Phase string

const (
	PhaseLoadingContext Phase = "loading_context"
	PhaseModelThinking  Phase = "model_thinking"
	PhaseAwaitingTools  Phase = "awaiting_tools"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)
