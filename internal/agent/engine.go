// Package agent runs the dialogue state machine: it alternates between the
// model and the tool dispatcher until the model answers, checkpointing the
// thread after every appended message and streaming progress events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/haasonsaas/gridiron/internal/checkpoint"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

const (
	statusFetchingContext    = "Fetching your roster data..."
	statusContextUnavailable = "Context unavailable, continuing without it"
	fallbackAnswer           = "I apologize, but I couldn't generate a response."
)

// Config configures the engine.
type Config struct {
	// MaxTurns caps model invocations per turn. Default: 25.
	MaxTurns int
	// EventBuffer is the capacity of the event channel. Default: 32.
	EventBuffer int
	// ModelTimeout bounds each model invocation. Zero means no bound.
	ModelTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{MaxTurns: 25, EventBuffer: 32}
}

// Observer receives engine measurements.
type Observer interface {
	TurnCompleted(outcome string, elapsed time.Duration)
	ModelInvoked(model string, elapsed time.Duration, err error)
	CheckpointSaved(err error, elapsed time.Duration)
}

// Engine drives turns. It holds no per-thread state; threads only meet
// through the checkpoint store and the tools.
type Engine struct {
	model     Model
	store     checkpoint.Store
	tools     ToolDispatcher
	config    Config
	context   ContextProvider
	prompt    PromptFunc
	compactor Compactor
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithContextProvider sets the external context collaborator.
func WithContextProvider(p ContextProvider) Option {
	return func(e *Engine) { e.context = p }
}

// WithPrompt sets the system prompt builder.
func WithPrompt(fn PromptFunc) Option {
	return func(e *Engine) { e.prompt = fn }
}

// WithCompactor sets the compaction step applied before model calls.
func WithCompactor(c Compactor) Option {
	return func(e *Engine) { e.compactor = c }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine. dispatcher may be nil for a model without
// tools.
func NewEngine(model Model, store checkpoint.Store, dispatcher ToolDispatcher, config Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if config.MaxTurns <= 0 {
		config.MaxTurns = defaults.MaxTurns
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}
	e := &Engine{
		model:     model,
		store:     store,
		tools:     dispatcher,
		config:    config,
		prompt:    DefaultPrompt,
		compactor: NoCompaction,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// TurnRequest starts or resumes a thread with a user message.
type TurnRequest struct {
	// ThreadID is generated when empty.
	ThreadID string
	Message  string
	// Context is merged into the thread's stored context.
	Context map[string]any
}

// RunTurn runs one turn in the background and returns its events. The
// channel is closed after exactly one terminal event. Callers should drain
// it; cancelling ctx stops the turn after in-flight tools finish.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) <-chan models.Event {
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = e.newID()
	}
	out := make(chan models.Event, e.config.EventBuffer)
	logger := e.logger.With("thread_id", threadID)

	go func() {
		defer close(out)
		start := e.now()
		ctx, span := otel.Tracer("gridiron/agent").Start(ctx, "turn")
		span.SetAttributes(attribute.String("thread.id", threadID))
		defer span.End()

		t := &turn{
			e:          e,
			ctx:        ctx,
			threadID:   threadID,
			em:         newEmitter(ctx, threadID, out, logger, e.now),
			logger:     logger,
			phase:      PhaseLoadingContext,
			phaseStart: start,
		}
		outcome := string(PhaseDone)
		if err := t.run(req); err != nil {
			kind := KindOf(err)
			outcome = string(kind)
			span.SetStatus(codes.Error, string(kind))
			logger.Warn("turn failed", "error_kind", kind, "error", err)
			t.em.Error(kind, userMessage(err))
		} else if !t.em.Done() {
			outcome = string(models.TurnErrorInternal)
			span.SetStatus(codes.Error, outcome)
			logger.Error("turn ended without a terminal event")
			t.em.Error(models.TurnErrorInternal, "The turn ended without an answer.")
		}
		if e.observer != nil {
			e.observer.TurnCompleted(outcome, e.now().Sub(start))
		}
	}()
	return out
}

// GetState returns the stored state of a thread, or checkpoint.ErrNotFound.
func (e *Engine) GetState(ctx context.Context, threadID string) (*models.TurnState, error) {
	cp, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return cp.State, nil
}

func userMessage(err error) string {
	var turnErr *TurnError
	if errors.As(err, &turnErr) && turnErr.Message != "" {
		return turnErr.Message
	}
	return err.Error()
}

// turn is the state of one running turn.
type turn struct {
	e          *Engine
	ctx        context.Context
	threadID   string
	em         *emitter
	logger     *slog.Logger
	state      *models.TurnState
	version    int64
	phase      Phase
	phaseStart time.Time
}

func (t *turn) run(req TurnRequest) error {
	t.em.Metadata(map[string]any{"thread_id": t.threadID})
	if strings.TrimSpace(req.Message) == "" {
		return t.fail(models.TurnErrorInternal, "message is required", nil)
	}
	if t.e.model == nil {
		return t.fail(models.TurnErrorModelInvocation, "no model configured", ErrNoModel)
	}

	if err := t.load(req.Context); err != nil {
		return err
	}
	t.state.Append(models.Message{ID: t.e.newID(), Role: models.RoleUser, Content: req.Message, CreatedAt: t.e.now()})
	if err := t.save(); err != nil {
		return err
	}

	t.em.Status(statusFetchingContext)
	system := t.fetchContext()

	var defs []tools.Definition
	if t.e.tools != nil {
		defs = t.e.tools.Definitions()
	}
	for {
		if err := t.ctx.Err(); err != nil {
			return t.cancelled(err)
		}
		if t.state.TurnCount >= t.e.config.MaxTurns {
			return t.fail(models.TurnErrorTurnLimitExceeded,
				fmt.Sprintf("Stopped after %d model calls without a final answer.", t.state.TurnCount), ErrTurnLimit)
		}
		t.setPhase(PhaseModelThinking)
		resp, err := t.invoke(system, defs)
		if err != nil {
			return err
		}
		if len(resp.ToolCalls) == 0 {
			return t.finish(resp)
		}
		if err := t.runTools(resp); err != nil {
			return err
		}
	}
}

func (t *turn) load(external map[string]any) error {
	cp, err := t.e.store.Load(t.ctx, t.threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		t.state = models.NewTurnState(t.threadID, nil)
		t.version = 0
	case err != nil:
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return t.cancelled(ctxErr)
		}
		return t.fail(models.TurnErrorInternal, "Failed to load the conversation.", err)
	default:
		t.state = cp.State
		t.version = cp.Version
		if n := t.state.Repair(t.e.newID); n > 0 {
			t.logger.Warn("answered tool calls interrupted by a previous turn", "count", n)
		}
	}
	if len(external) > 0 {
		if t.state.Context == nil {
			t.state.Context = make(map[string]any, len(external))
		}
		for k, v := range external {
			t.state.Context[k] = v
		}
	}
	t.state.TurnCount = 0
	return nil
}

// save checkpoints the state against the last persisted version.
func (t *turn) save() error {
	return t.saveWith(t.ctx)
}

func (t *turn) saveWith(ctx context.Context) error {
	start := t.e.now()
	version, err := t.e.store.Save(ctx, t.threadID, t.state, t.version)
	if t.e.observer != nil {
		t.e.observer.CheckpointSaved(err, t.e.now().Sub(start))
	}
	if err != nil {
		if errors.Is(err, checkpoint.ErrStaleWrite) {
			return t.fail(models.TurnErrorConflict,
				"This conversation was updated by another request. Please retry.", err)
		}
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return t.cancelled(ctxErr)
		}
		return t.fail(models.TurnErrorInternal, "Failed to save the conversation.", err)
	}
	t.version = version
	return nil
}

func (t *turn) fetchContext() string {
	var structured map[string]any
	if t.e.context != nil {
		data, err := t.e.context.Fetch(t.ctx, t.state.Context)
		if err != nil {
			t.logger.Warn("context fetch failed", "error", err)
			t.em.Warning(statusContextUnavailable)
		} else {
			structured = data
			t.logger.Debug("context loaded", "keys", len(data))
		}
	}
	return t.e.prompt(structured)
}

func (t *turn) invoke(system string, defs []tools.Definition) (*AssistantResponse, error) {
	t.state.TurnCount++
	messages := t.e.compactor.Compact(slices.Clone(t.state.Messages))

	ctx := t.ctx
	if t.e.config.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.e.config.ModelTimeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("gridiron/agent").Start(ctx, "model.invoke")
	span.SetAttributes(
		attribute.String("model.name", t.e.model.Name()),
		attribute.Int("turn.model_calls", t.state.TurnCount),
		attribute.Int("model.messages", len(messages)),
	)
	defer span.End()

	start := t.e.now()
	resp, err := t.e.model.Invoke(ctx, ModelRequest{System: system, Messages: messages, Tools: defs})
	elapsed := t.e.now().Sub(start)
	if t.e.observer != nil {
		t.e.observer.ModelInvoked(t.e.model.Name(), elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model invocation failed")
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return nil, t.cancelled(ctxErr)
		}
		return nil, t.fail(models.TurnErrorModelInvocation,
			"The assistant is unavailable right now. Please try again.", err)
	}
	if resp == nil {
		resp = &AssistantResponse{}
	}
	t.logger.Debug("model responded",
		"model_call", t.state.TurnCount,
		"tool_calls", len(resp.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"duration_ms", elapsed.Milliseconds(),
	)

	seen := make(map[string]bool, len(resp.ToolCalls))
	for i := range resp.ToolCalls {
		call := &resp.ToolCalls[i]
		if call.ID == "" || seen[call.ID] {
			call.ID = t.e.newID()
		}
		seen[call.ID] = true
		if len(call.Arguments) == 0 {
			call.Arguments = []byte("{}")
		}
	}
	return resp, nil
}

func (t *turn) finish(resp *AssistantResponse) error {
	t.state.Append(models.Message{
		ID:        t.e.newID(),
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		CreatedAt: t.e.now(),
	})
	if err := t.save(); err != nil {
		return err
	}
	t.setPhase(PhaseDone)
	answer := resp.Content
	if strings.TrimSpace(answer) == "" {
		answer = fallbackAnswer
	}
	t.em.Response(answer, map[string]any{"model_calls": t.state.TurnCount})
	return nil
}

func (t *turn) runTools(resp *AssistantResponse) error {
	calls := resp.ToolCalls
	t.state.Append(models.Message{
		ID:        t.e.newID(),
		Role:      models.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: calls,
		CreatedAt: t.e.now(),
	})
	t.state.PendingToolCalls = slices.Clone(calls)
	if err := t.save(); err != nil {
		return err
	}

	t.setPhase(PhaseAwaitingTools)
	t.em.Status("Using tools: " + strings.Join(toolNames(calls), ", "))
	results := t.dispatch(calls)
	for i, call := range calls {
		result := results[i]
		if result == nil {
			result = models.NewToolFailure(call.ID, models.ToolErrorHandlerFault, "tool returned no result")
		}
		result.RequestID = call.ID
		t.state.Append(models.Message{
			ID:            t.e.newID(),
			Role:          models.RoleTool,
			ToolResultFor: call.ID,
			Result:        result,
			CreatedAt:     t.e.now(),
		})
	}
	t.state.PendingToolCalls = nil

	// Started tools have finished. A cancelled turn still records their
	// results so a resumed thread never re-issues a completed action.
	if err := t.ctx.Err(); err != nil {
		if saveErr := t.saveWith(context.WithoutCancel(t.ctx)); saveErr != nil {
			return saveErr
		}
		return t.cancelled(err)
	}
	return t.save()
}

func (t *turn) dispatch(calls []models.ToolCall) []*models.ToolResult {
	if t.e.tools == nil {
		results := make([]*models.ToolResult, len(calls))
		for i, call := range calls {
			results[i] = models.NewToolFailure(call.ID, models.ToolErrorUnknownTool, "tool not found: "+call.Name)
		}
		return results
	}
	ctx := tools.WithCallContext(t.ctx, tools.CallContext{ThreadID: t.threadID, Values: t.state.Context})
	return t.e.tools.Dispatch(ctx, calls)
}

func toolNames(calls []models.ToolCall) []string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		if !slices.Contains(names, call.Name) {
			names = append(names, call.Name)
		}
	}
	return names
}

func (t *turn) setPhase(next Phase) {
	now := t.e.now()
	t.logger.Debug("phase transition",
		"from", t.phase,
		"to", next,
		"elapsed_ms", now.Sub(t.phaseStart).Milliseconds(),
	)
	t.phase = next
	t.phaseStart = now
}

func (t *turn) cancelled(cause error) error {
	return t.fail(models.TurnErrorCancelled, "Turn cancelled.", cause)
}

func (t *turn) fail(kind models.TurnErrorKind, message string, cause error) error {
	err := &TurnError{
		Kind:      kind,
		Phase:     t.phase,
		TurnCount: 0,
		Message:   message,
		Cause:     cause,
	}
	if t.state != nil {
		err.TurnCount = t.state.TurnCount
	}
	t.setPhase(PhaseFailed)
	return err
}
