package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// emitter writes one turn's events in order and enforces that exactly one
// terminal event is sent. Nothing is sent after it.
type emitter struct {
	threadID string
	out      chan<- models.Event
	ctx      context.Context
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sequence uint64
	terminal bool
}

func newEmitter(ctx context.Context, threadID string, out chan<- models.Event, logger *slog.Logger, now func() time.Time) *emitter {
	return &emitter{threadID: threadID, out: out, ctx: ctx, logger: logger, now: now}
}

func (e *emitter) send(event models.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		e.logger.Warn("event dropped after terminal event", "type", event.Type, "message", event.Message)
		return false
	}
	e.sequence++
	event.Sequence = e.sequence
	event.ThreadID = e.threadID
	event.Time = e.now()
	if event.Terminal() {
		e.terminal = true
	}

	select {
	case e.out <- event:
		return true
	case <-e.ctx.Done():
	}
	// The caller is gone. Deliver into spare buffer if there is any.
	select {
	case e.out <- event:
		return true
	default:
		e.logger.Debug("event dropped, caller gone", "type", event.Type)
		return false
	}
}

func (e *emitter) Metadata(data map[string]any) {
	e.send(models.Event{Type: models.EventMetadata, Message: "thread", Data: data})
}

func (e *emitter) Status(message string) {
	e.send(models.Event{Type: models.EventStatus, Message: message})
}

// Warning is a non-terminal status flagged as a warning.
func (e *emitter) Warning(message string) {
	e.send(models.Event{Type: models.EventStatus, Message: message, Data: map[string]any{"warning": true}})
}

func (e *emitter) Response(message string, data map[string]any) {
	e.send(models.Event{Type: models.EventResponse, Message: message, Data: data})
}

func (e *emitter) Error(kind models.TurnErrorKind, message string) {
	e.send(models.Event{Type: models.EventError, Message: message, ErrorKind: kind})
}

// Done reports whether the terminal event has been sent.
func (e *emitter) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}
