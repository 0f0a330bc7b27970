package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// Config configures dispatch behavior.
type Config struct {
	// DefaultTimeout bounds each handler without its own timeout.
	// Default: 30 seconds.
	DefaultTimeout time.Duration

	// MaxConcurrency bounds handlers running at once for one dispatch.
	// Default: 8.
	MaxConcurrency int
}

// DefaultConfig returns the default dispatch configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		MaxConcurrency: 8,
	}
}

// Observer receives one callback per finished tool call.
type Observer interface {
	ToolExecuted(name string, status models.ToolStatus, kind models.ToolErrorKind, elapsed time.Duration)
}

// Dispatcher executes tool calls against a Registry. It never retries; a
// failed call becomes an error ToolResult the model can react to.
type Dispatcher struct {
	registry *Registry
	config   Config
	logger   *slog.Logger
	observer Observer
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithObserver sets the execution observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a dispatcher. Zero config fields take defaults.
func NewDispatcher(registry *Registry, config Config, opts ...Option) *Dispatcher {
	defaults := DefaultConfig()
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	d := &Dispatcher{
		registry: registry,
		config:   config,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "tools")
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Definitions lists the registered tools for the model.
func (d *Dispatcher) Definitions() []Definition {
	return d.registry.Definitions()
}

// Dispatch runs calls concurrently and returns one result per call in the
// order of calls. Handlers that already started are not interrupted when
// ctx is cancelled; they finish or hit their own timeout. Calls that have
// not started when ctx is cancelled are not run.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall) []*models.ToolResult {
	results := make([]*models.ToolResult, len(calls))

	var g errgroup.Group
	g.SetLimit(d.config.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = models.NewToolFailure(call.ID, models.ToolErrorHandlerFault,
					"not started: turn cancelled")
				return nil
			}
			results[i] = d.invoke(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke runs a single call. It never returns nil.
func (d *Dispatcher) invoke(ctx context.Context, call models.ToolCall) *models.ToolResult {
	start := time.Now()
	ctx, span := otel.Tracer("gridiron/tools").Start(ctx, "tool."+call.Name)
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID))
	defer span.End()

	result := d.execute(ctx, call)

	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.ToolExecuted(call.Name, result.Status, result.ErrorKind, elapsed)
	}
	if !result.OK() {
		span.SetStatus(codes.Error, string(result.ErrorKind))
		d.logger.Info("tool call failed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"error_kind", result.ErrorKind,
			"error", result.Message,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		d.logger.Debug("tool call completed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return result
}

func (d *Dispatcher) execute(ctx context.Context, call models.ToolCall) *models.ToolResult {
	tool, ok := d.registry.lookup(call.Name)
	if !ok {
		return models.NewToolFailure(call.ID, models.ToolErrorUnknownTool,
			fmt.Sprintf("tool not found: %s", call.Name))
	}
	args, err := tool.validate(call.Arguments)
	if err != nil {
		return models.NewToolFailure(call.ID, kindOf(err), err.Error())
	}

	timeout := d.config.DefaultTimeout
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}
	// Detach from caller cancellation so a started handler is never cut off
	// mid-action; the timeout still bounds it.
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("panic: %v", r)}
				d.logger.Error("tool handler panicked",
					"tool", call.Name,
					"tool_call_id", call.ID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
			select {
			case done <- out:
			default:
			}
		}()
		value, err := tool.Handler(toolCtx, args)
		out = outcome{value: value, err: err}
		if toolCtx.Err() != nil {
			d.logger.Warn("tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
			)
		}
	}()

	select {
	case <-toolCtx.Done():
		return models.NewToolFailure(call.ID, models.ToolErrorTimeout,
			fmt.Sprintf("tool execution timed out after %v", timeout))
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) && toolCtx.Err() != nil {
				return models.NewToolFailure(call.ID, models.ToolErrorTimeout,
					fmt.Sprintf("tool execution timed out after %v", timeout))
			}
			return models.NewToolFailure(call.ID, kindOf(out.err), out.err.Error())
		}
		payload, err := marshalPayload(out.value)
		if err != nil {
			return models.NewToolFailure(call.ID, models.ToolErrorHandlerFault,
				fmt.Sprintf("encode result: %v", err))
		}
		return &models.ToolResult{RequestID: call.ID, Status: models.ToolStatusOK, Payload: payload}
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, errors.New("handler returned invalid JSON")
		}
		return val, nil
	default:
		return json.Marshal(val)
	}
}
