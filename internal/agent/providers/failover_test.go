package providers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haasonsaas/gridiron/internal/agent"
)

type stubModel struct {
	name  string
	err   error
	calls int
}

func (m *stubModel) Name() string { return m.name }

func (m *stubModel) Invoke(ctx context.Context, req agent.ModelRequest) (*agent.AssistantResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &agent.AssistantResponse{Content: m.name}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFailoverMovesToNextModel(t *testing.T) {
	primary := &stubModel{name: "a", err: NewProviderError("a", "m", errors.New("401 unauthorized"))}
	backup := &stubModel{name: "b"}
	f := NewFailover(quietLogger(), primary, backup)

	resp, err := f.Invoke(context.Background(), agent.ModelRequest{})
	if err != nil || resp.Content != "b" {
		t.Fatalf("resp = %+v err = %v", resp, err)
	}
	if f.Name() != "a,b" {
		t.Fatalf("Name() = %s", f.Name())
	}
}

func TestFailoverStopsOnRequestErrors(t *testing.T) {
	primary := &stubModel{name: "a", err: NewProviderError("a", "m", errors.New("x")).WithStatus(400)}
	backup := &stubModel{name: "b"}
	f := NewFailover(quietLogger(), primary, backup)

	if _, err := f.Invoke(context.Background(), agent.ModelRequest{}); err == nil {
		t.Fatal("expected error")
	}
	if backup.calls != 0 {
		t.Fatal("invalid requests must not fail over")
	}
}

func TestFailoverSkipsOpenCircuit(t *testing.T) {
	now := time.Unix(0, 0)
	primary := &stubModel{name: "a", err: errors.New("503 service unavailable")}
	backup := &stubModel{name: "b"}
	f := NewFailover(quietLogger(), primary, backup)
	f.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := f.Invoke(context.Background(), agent.ModelRequest{}); err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
	}
	if _, err := f.Invoke(context.Background(), agent.ModelRequest{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if primary.calls != 3 {
		t.Fatalf("primary calls = %d, want 3 before the circuit opened", primary.calls)
	}

	now = now.Add(time.Minute)
	primary.err = nil
	resp, _ := f.Invoke(context.Background(), agent.ModelRequest{})
	if resp.Content != "a" {
		t.Fatalf("primary not retried after cooldown: %+v", resp)
	}
}

func TestFailoverEmpty(t *testing.T) {
	if _, err := NewFailover(nil).Invoke(context.Background(), agent.ModelRequest{}); !errors.Is(err, agent.ErrNoModel) {
		t.Fatalf("err = %v", err)
	}
}
