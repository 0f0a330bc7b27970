package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailoverReason
	}{
		{errors.New("context deadline exceeded"), FailoverTimeout},
		{errors.New("429 Too Many Requests"), FailoverRateLimit},
		{errors.New("invalid api key"), FailoverAuth},
		{errors.New("insufficient_quota"), FailoverBilling},
		{errors.New("blocked by safety settings"), FailoverContentFilter},
		{errors.New("model_not_found"), FailoverModelUnavailable},
		{errors.New("502 bad gateway"), FailoverServerError},
		{fmt.Errorf("tool x: %w", errTruncated), FailoverInvalidRequest},
		{errors.New("something odd"), FailoverUnknown},
		{nil, FailoverUnknown},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProviderErrorStatusAndCode(t *testing.T) {
	err := NewProviderError("anthropic", "m", errors.New("request failed")).WithStatus(http.StatusTooManyRequests)
	if err.Reason != FailoverRateLimit || !IsRetryable(err) {
		t.Fatalf("reason = %s", err.Reason)
	}
	err.WithCode("overloaded_error")
	if err.Reason != FailoverServerError {
		t.Fatalf("reason after code = %s", err.Reason)
	}
	wrapped := fmt.Errorf("turn: %w", err)
	if got, ok := GetProviderError(wrapped); !ok || got != err {
		t.Fatal("GetProviderError should find the wrapped error")
	}
	if want := "[server_error] anthropic model=m status=429 code=overloaded_error request failed"; err.Error() != want {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestRetrierBackoff(t *testing.T) {
	var slept []time.Duration
	r := newRetrier(4, 100*time.Millisecond)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewProviderError("p", "m", errors.New("503 service unavailable"))
	})
	if err == nil || calls != 4 {
		t.Fatalf("calls = %d err = %v", calls, err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if fmt.Sprint(slept) != fmt.Sprint(want) {
		t.Fatalf("backoff = %v, want %v", slept, want)
	}
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	r := newRetrier(5, time.Millisecond)
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewProviderError("p", "m", errors.New("unauthorized"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d err = %v", calls, err)
	}
}

func TestRetrierHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newRetrier(5, time.Hour)
	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls = %d err = %v", calls, err)
	}
}
