package providers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/gridiron/internal/agent"
)

// Failover tries models in order, moving to the next one when a failure
// is classified as provider-side. A model that keeps failing is skipped
// until its cooldown passes.
type Failover struct {
	models    []agent.Model
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*modelState
}

type modelState struct {
	failures  int
	openUntil time.Time
}

// NewFailover wraps models, primary first.
func NewFailover(logger *slog.Logger, models ...agent.Model) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		models:    models,
		threshold: 3,
		cooldown:  30 * time.Second,
		logger:    logger,
		now:       time.Now,
		states:    make(map[string]*modelState),
	}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.models))
	for i, m := range f.models {
		names[i] = m.Name()
	}
	return strings.Join(names, ",")
}

func (f *Failover) Invoke(ctx context.Context, req agent.ModelRequest) (*agent.AssistantResponse, error) {
	if len(f.models) == 0 {
		return nil, agent.ErrNoModel
	}
	var errs []error
	tried := 0
	for i, model := range f.models {
		// The last model is always tried so a request never fails unattempted.
		if !f.available(model.Name()) && !(tried == 0 && i == len(f.models)-1) {
			continue
		}
		tried++
		resp, err := model.Invoke(ctx, req)
		if err == nil {
			f.record(model.Name(), nil)
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		f.record(model.Name(), err)
		errs = append(errs, err)
		if !ShouldFailover(err) {
			return nil, err
		}
		f.logger.Warn("model failed, trying next", "model", model.Name(), "error", err)
	}
	return nil, errors.Join(errs...)
}

func (f *Failover) available(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	return !ok || !f.now().Before(state.openUntil)
}

func (f *Failover) record(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	if !ok {
		state = &modelState{}
		f.states[name] = state
	}
	if err == nil {
		state.failures = 0
		state.openUntil = time.Time{}
		return
	}
	state.failures++
	if state.failures >= f.threshold {
		state.openUntil = f.now().Add(f.cooldown)
	}
}
