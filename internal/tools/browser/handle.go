package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/gridiron/internal/tools"
)

// Handle is a borrowed session. It is only valid inside the Borrow
// callback that produced it.
type Handle struct {
	pool     *Pool
	s        *session
	released atomic.Bool
}

// SessionID returns the borrowed session's id.
func (h *Handle) SessionID() string { return h.s.record.SessionID }

// OwnerID returns the session owner.
func (h *Handle) OwnerID() string { return h.s.record.OwnerID }

// Navigate checks rawURL against the egress policy and loads it. A
// blocked URL is reported as a policy violation and the page is never
// touched.
func (h *Handle) Navigate(ctx context.Context, rawURL string) (string, error) {
	if err := h.check(); err != nil {
		return "", err
	}
	u, err := h.pool.policy.Check(rawURL)
	if err != nil {
		h.pool.logger.Warn("navigation blocked", "session_id", h.SessionID(), "url", rawURL, "error", err)
		return "", tools.PolicyViolation(err)
	}
	if err := h.pace(ctx); err != nil {
		return "", err
	}
	if err := h.s.page.Navigate(ctx, u.String()); err != nil {
		return "", fmt.Errorf("navigate to %s: %w", u.Redacted(), err)
	}
	return h.s.page.URL(), nil
}

// Click clicks the first element matching selector.
func (h *Handle) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := h.ready(ctx); err != nil {
		return err
	}
	if err := h.s.page.Click(ctx, selector, h.timeout(timeout)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Fill types text into the element matching selector.
func (h *Handle) Fill(ctx context.Context, selector, text string, clear bool, timeout time.Duration) error {
	if err := h.ready(ctx); err != nil {
		return err
	}
	if err := h.s.page.Fill(ctx, selector, text, clear, h.timeout(timeout)); err != nil {
		return fmt.Errorf("type into %q: %w", selector, err)
	}
	return nil
}

// Press sends a key press to the focused element.
func (h *Handle) Press(ctx context.Context, key string) error {
	if err := h.ready(ctx); err != nil {
		return err
	}
	if err := h.s.page.Press(ctx, key); err != nil {
		return fmt.Errorf("press %q: %w", key, err)
	}
	return nil
}

// WaitFor waits until selector reaches state.
func (h *Handle) WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	if err := h.check(); err != nil {
		return err
	}
	if err := h.s.page.WaitFor(ctx, selector, state, h.timeout(timeout)); err != nil {
		return fmt.Errorf("wait for %q (%s): %w", selector, state, err)
	}
	return nil
}

// Screenshot captures the full page as PNG.
func (h *Handle) Screenshot(ctx context.Context) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	return h.s.page.Screenshot(ctx)
}

// URL returns the current page URL.
func (h *Handle) URL() string {
	if h.check() != nil {
		return ""
	}
	return h.s.page.URL()
}

// Title returns the current page title.
func (h *Handle) Title(ctx context.Context) (string, error) {
	if err := h.check(); err != nil {
		return "", err
	}
	return h.s.page.Title(ctx)
}

func (h *Handle) check() error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	return nil
}

func (h *Handle) ready(ctx context.Context) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.pace(ctx)
}

func (h *Handle) pace(ctx context.Context) error {
	if h.s.limiter != nil {
		if err := h.s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return h.pool.pause(ctx, h.pool.actionDelay())
}

func (h *Handle) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return h.pool.config.ActionTimeout
	}
	return d
}
