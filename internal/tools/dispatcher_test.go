package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/gridiron/pkg/models"
)

func call(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newTestDispatcher(t *testing.T, cfg Config, tools ...Tool) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%s) error = %v", tool.Name, err)
		}
	}
	return NewDispatcher(reg, cfg)
}

func sleeper(name string) Tool {
	return Tool{
		Name:   name,
		Schema: json.RawMessage(`{"type":"object","properties":{"ms":{"type":"integer"}},"required":["ms"]}`),
		Handler: func(ctx context.Context, args Args) (any, error) {
			time.Sleep(time.Duration(args.Int("ms", 0)) * time.Millisecond)
			return map[string]string{"tool": name}, nil
		},
	}
}

func TestDispatch_PreservesRequestOrder(t *testing.T) {
	d := newTestDispatcher(t, Config{}, sleeper("wait"))

	calls := []models.ToolCall{
		call("a", "wait", `{"ms":60}`),
		call("b", "wait", `{"ms":1}`),
		call("c", "wait", `{"ms":30}`),
	}
	results := d.Dispatch(context.Background(), calls)

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].RequestID != want {
			t.Errorf("results[%d].RequestID = %s, want %s", i, results[i].RequestID, want)
		}
		if !results[i].OK() {
			t.Errorf("results[%d] = %+v", i, results[i])
		}
	}
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxConcurrency: 4}, sleeper("wait"))
	calls := []models.ToolCall{
		call("a", "wait", `{"ms":100}`),
		call("b", "wait", `{"ms":100}`),
		call("c", "wait", `{"ms":100}`),
	}
	start := time.Now()
	d.Dispatch(context.Background(), calls)
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("dispatch took %v, calls did not overlap", elapsed)
	}
}

func TestDispatch_RespectsConcurrencyLimit(t *testing.T) {
	var running, peak int32
	tool := Tool{
		Name: "count",
		Handler: func(ctx context.Context, args Args) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		},
	}
	d := newTestDispatcher(t, Config{MaxConcurrency: 2}, tool)
	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = call(string(rune('a'+i)), "count", `{}`)
	}
	d.Dispatch(context.Background(), calls)
	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestDispatch_ErrorKinds(t *testing.T) {
	d := newTestDispatcher(t, Config{DefaultTimeout: time.Second},
		Tool{
			Name:    "slow",
			Timeout: 50 * time.Millisecond,
			Handler: func(ctx context.Context, args Args) (any, error) {
				time.Sleep(300 * time.Millisecond)
				return "late", nil
			},
		},
		Tool{
			Name: "panics",
			Handler: func(ctx context.Context, args Args) (any, error) {
				panic("boom")
			},
		},
		Tool{
			Name: "fails",
			Handler: func(ctx context.Context, args Args) (any, error) {
				return nil, errors.New("upstream returned 502")
			},
		},
		Tool{
			Name: "blocked",
			Handler: func(ctx context.Context, args Args) (any, error) {
				return nil, PolicyViolation(errors.New("domain evil.example.com is not allowed"))
			},
		},
		Tool{
			Name:   "typed",
			Schema: json.RawMessage(`{"type":"object","properties":{"week":{"type":"integer","minimum":1}},"required":["week"],"additionalProperties":false}`),
			Handler: func(ctx context.Context, args Args) (any, error) {
				return args.Int("week", 0), nil
			},
		},
		Tool{
			Name: "unencodable",
			Handler: func(ctx context.Context, args Args) (any, error) {
				return make(chan int), nil
			},
		},
	)

	tests := []struct {
		call        models.ToolCall
		wantKind    models.ToolErrorKind
		msgContains string
	}{
		{call("1", "slow", `{}`), models.ToolErrorTimeout, "timed out"},
		{call("2", "panics", `{}`), models.ToolErrorHandlerFault, "panic: boom"},
		{call("3", "fails", `{}`), models.ToolErrorHandlerFault, "502"},
		{call("4", "blocked", `{}`), models.ToolErrorPolicyViolation, "evil.example.com"},
		{call("5", "missing", `{}`), models.ToolErrorUnknownTool, "tool not found"},
		{call("6", "typed", `{"week":0}`), models.ToolErrorInvalidArguments, "schema"},
		{call("7", "typed", `{"week":3,"extra":true}`), models.ToolErrorInvalidArguments, "schema"},
		{call("8", "typed", `{not json`), models.ToolErrorInvalidArguments, "valid JSON"},
		{call("9", "unencodable", `{}`), models.ToolErrorHandlerFault, "encode result"},
	}

	for _, tt := range tests {
		t.Run(tt.call.Name+"/"+tt.call.ID, func(t *testing.T) {
			results := d.Dispatch(context.Background(), []models.ToolCall{tt.call})
			got := results[0]
			if got.Status != models.ToolStatusError {
				t.Fatalf("Status = %s, want error", got.Status)
			}
			if got.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %s, want %s", got.ErrorKind, tt.wantKind)
			}
			if !strings.Contains(got.Message, tt.msgContains) {
				t.Errorf("Message = %q, want containing %q", got.Message, tt.msgContains)
			}
			if got.RequestID != tt.call.ID {
				t.Errorf("RequestID = %s, want %s", got.RequestID, tt.call.ID)
			}
		})
	}

	ok := d.Dispatch(context.Background(), []models.ToolCall{call("10", "typed", `{"week":3}`)})[0]
	if !ok.OK() || string(ok.Payload) != "3" {
		t.Fatalf("typed call = %+v", ok)
	}
}

func TestDispatch_StartedHandlersFinishAfterCancel(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	tool := Tool{
		Name: "step",
		Handler: func(ctx context.Context, args Args) (any, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			sawCancel.Store(ctx.Err() != nil)
			return "clicked", nil
		},
	}
	d := newTestDispatcher(t, Config{}, tool)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg      sync.WaitGroup
		results []*models.ToolResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results = d.Dispatch(ctx, []models.ToolCall{call("a", "step", `{}`)})
	}()
	<-started
	cancel()
	wg.Wait()

	if !results[0].OK() {
		t.Fatalf("in-flight call should finish, got %+v", results[0])
	}
	if sawCancel.Load() {
		t.Fatal("handler context should not observe caller cancellation")
	}
}

func TestDispatch_CancelledBeforeStart(t *testing.T) {
	var ran atomic.Int32
	tool := Tool{
		Name: "never",
		Handler: func(ctx context.Context, args Args) (any, error) {
			ran.Add(1)
			return nil, nil
		},
	}
	d := newTestDispatcher(t, Config{}, tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := d.Dispatch(ctx, []models.ToolCall{call("a", "never", `{}`), call("b", "never", `{}`)})

	if ran.Load() != 0 {
		t.Fatalf("handler ran %d times after cancellation", ran.Load())
	}
	for _, r := range results {
		if r.OK() || r.ErrorKind != models.ToolErrorHandlerFault {
			t.Fatalf("result = %+v", r)
		}
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ToolExecuted(name string, status models.ToolStatus, kind models.ToolErrorKind, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, name+":"+string(status)+":"+string(kind))
}

func TestDispatch_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry()
	reg.MustRegister(Tool{Name: "ok", Handler: func(ctx context.Context, args Args) (any, error) { return "x", nil }})
	d := NewDispatcher(reg, Config{}, WithObserver(obs))

	d.Dispatch(context.Background(), []models.ToolCall{call("1", "ok", `{}`), call("2", "nope", `{}`)})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.calls) != 2 {
		t.Fatalf("observer calls = %v", obs.calls)
	}
	joined := strings.Join(obs.calls, ",")
	if !strings.Contains(joined, "ok:ok:") || !strings.Contains(joined, "nope:error:UnknownTool") {
		t.Fatalf("observer calls = %v", obs.calls)
	}
}
