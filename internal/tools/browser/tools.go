package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/internal/backoff"
	"github.com/haasonsaas/gridiron/internal/credentials"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

const (
	maxSleep      = time.Minute
	loginTimeout  = 3 * time.Minute
	ssoWait       = 2 * time.Minute
	probeTimeout  = 5 * time.Second
	settleDelay   = 3 * time.Second
	pollInterval  = 500 * time.Millisecond
	lineupTimeout = 10 * time.Second
)

// Toolset exposes the session pool as model-invocable tools.
type Toolset struct {
	pool    *Pool
	secrets credentials.Store
	shots   ScreenshotSink
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// ToolsetOption customizes a Toolset.
type ToolsetOption func(*Toolset)

// WithScreenshots stores screenshots in sink.
func WithScreenshots(sink ScreenshotSink) ToolsetOption {
	return func(t *Toolset) { t.shots = sink }
}

// WithToolLogger sets the toolset logger.
func WithToolLogger(logger *slog.Logger) ToolsetOption {
	return func(t *Toolset) { t.logger = logger }
}

// NewToolset creates browser tools over pool. secrets may be nil, in which
// case sleeper_login always fails.
func NewToolset(pool *Pool, secrets credentials.Store, opts ...ToolsetOption) *Toolset {
	t := &Toolset{
		pool:    pool,
		secrets: secrets,
		logger:  slog.Default(),
		sleep:   backoff.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "browser_tools")
	return t
}

type sessionArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
}

type openPageArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	URL       string `json:"url" jsonschema:"required,description=Absolute http(s) URL on an allowed domain"`
}

type clickArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	Selector  string `json:"selector" jsonschema:"required,description=CSS selector of the element to click"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"minimum=1,maximum=120000"`
}

type typeTextArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	Selector  string `json:"selector" jsonschema:"required,description=CSS selector of the input field"`
	Text      string `json:"text" jsonschema:"required"`
	Clear     *bool  `json:"clear,omitempty" jsonschema:"description=Clear the field first (default true)"`
	Secure    bool   `json:"secure,omitempty" jsonschema:"description=Mask the text in logs and results"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"minimum=1,maximum=120000"`
}

type pressKeyArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	Key       string `json:"key" jsonschema:"required,description=Key name such as Enter or Tab or ArrowDown"`
}

type waitArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	Selector  string `json:"selector" jsonschema:"required"`
	State     string `json:"state,omitempty" jsonschema:"enum=visible,enum=hidden,enum=attached,enum=detached"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"minimum=1,maximum=120000"`
}

type screenshotArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	Tag       string `json:"tag,omitempty" jsonschema:"description=Label such as login or before_swap"`
}

type sleepArgs struct {
	Milliseconds int `json:"milliseconds" jsonschema:"required,minimum=0,maximum=60000"`
}

type lineupNavArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Browser session id; defaults to the caller's active session"`
	LeagueID  string `json:"league_id" jsonschema:"required,description=Sleeper league id"`
	Week      int    `json:"week" jsonschema:"required,minimum=1,maximum=18"`
}

// Register adds every browser tool to reg.
func (t *Toolset) Register(reg *tools.Registry) error {
	defs := []tools.Tool{
		{
			Name:        "start_browser_session",
			Description: "Start (or reuse) a browser session for the current user and return its session_id.",
			Handler:     t.startSession,
		},
		{
			Name:        "open_page",
			Description: "Navigate the browser to a URL on an allowed domain.",
			Schema:      tools.SchemaFor[openPageArgs](),
			Handler:     t.openPage,
		},
		{
			Name:        "click_element",
			Description: "Wait for an element and click it.",
			Schema:      tools.SchemaFor[clickArgs](),
			Handler:     t.click,
		},
		{
			Name:        "type_text",
			Description: "Type text into an input field. Set secure for passwords.",
			Schema:      tools.SchemaFor[typeTextArgs](),
			Handler:     t.typeText,
		},
		{
			Name:        "press_key",
			Description: "Press a keyboard key, e.g. Enter to submit a form.",
			Schema:      tools.SchemaFor[pressKeyArgs](),
			Handler:     t.pressKey,
		},
		{
			Name:        "wait_for_element",
			Description: "Wait until an element reaches a state (default visible).",
			Schema:      tools.SchemaFor[waitArgs](),
			Handler:     t.waitFor,
		},
		{
			Name:        "take_screenshot",
			Description: "Capture a full-page screenshot of the current page.",
			Schema:      tools.SchemaFor[screenshotArgs](),
			Handler:     t.screenshot,
		},
		{
			Name:        "sleep_ms",
			Description: "Pause for a number of milliseconds, up to one minute.",
			Schema:      tools.SchemaFor[sleepArgs](),
			Timeout:     maxSleep + 5*time.Second,
			Handler:     t.sleepMS,
		},
		{
			Name:        "close_browser_session",
			Description: "Close the browser session.",
			Schema:      tools.SchemaFor[sessionArgs](),
			Handler:     t.closeSession,
		},
		{
			Name:        "sleeper_login",
			Description: "Log into Sleeper with the user's saved credentials. Credentials are never shown.",
			Schema:      tools.SchemaFor[sessionArgs](),
			Timeout:     loginTimeout,
			Handler:     t.sleeperLogin,
		},
		{
			Name:        "navigate_to_lineup",
			Description: "Open a Sleeper league's lineup page for a week.",
			Schema:      tools.SchemaFor[lineupNavArgs](),
			Timeout:     time.Minute,
			Handler:     t.navigateToLineup,
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func ownerOf(ctx context.Context) (string, error) {
	cc, ok := tools.CallContextFrom(ctx)
	if !ok || cc.OwnerID() == "" {
		return "", errors.New("no owner for browser session")
	}
	return cc.OwnerID(), nil
}

// resolve picks the explicit session id or the owner's active session.
func (t *Toolset) resolve(ctx context.Context, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	owner, err := ownerOf(ctx)
	if err != nil {
		return "", err
	}
	id, ok := t.pool.SessionFor(owner)
	if !ok {
		return "", errors.New("no active browser session; call start_browser_session first")
	}
	return id, nil
}

// borrow resolves the session and runs fn on it.
func (t *Toolset) borrow(ctx context.Context, sessionID string, fn func(*Handle) error) error {
	id, err := t.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return t.pool.Borrow(ctx, id, fn)
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (t *Toolset) startSession(ctx context.Context, _ tools.Args) (any, error) {
	owner, err := ownerOf(ctx)
	if err != nil {
		return nil, err
	}
	id, err := t.pool.Create(ctx, owner)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": id}, nil
}

func (t *Toolset) openPage(ctx context.Context, raw tools.Args) (any, error) {
	var args openPageArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	var out map[string]any
	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		current, err := h.Navigate(ctx, args.URL)
		if err != nil {
			return err
		}
		title, err := h.Title(ctx)
		if err != nil {
			t.logger.Debug("page title unavailable", "error", err)
		}
		out = map[string]any{"url": current, "title": title}
		return nil
	})
	return out, err
}

func (t *Toolset) click(ctx context.Context, raw tools.Args) (any, error) {
	var args clickArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		return h.Click(ctx, args.Selector, msDuration(args.TimeoutMS))
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"selector": args.Selector}, nil
}

func (t *Toolset) typeText(ctx context.Context, raw tools.Args) (any, error) {
	var args typeTextArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	clearFirst := args.Clear == nil || *args.Clear
	shown := args.Text
	if args.Secure {
		shown = strings.Repeat("*", len(args.Text))
	}
	t.logger.Info("typing text", "selector", args.Selector, "text", shown)

	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		return h.Fill(ctx, args.Selector, args.Text, clearFirst, msDuration(args.TimeoutMS))
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"selector": args.Selector, "text": shown}, nil
}

func (t *Toolset) pressKey(ctx context.Context, raw tools.Args) (any, error) {
	var args pressKeyArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		return h.Press(ctx, args.Key)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": args.Key}, nil
}

func (t *Toolset) waitFor(ctx context.Context, raw tools.Args) (any, error) {
	var args waitArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	state := WaitState(args.State)
	if state == "" {
		state = WaitVisible
	}
	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		return h.WaitFor(ctx, args.Selector, state, msDuration(args.TimeoutMS))
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"selector": args.Selector, "state": string(state)}, nil
}

func (t *Toolset) screenshot(ctx context.Context, raw tools.Args) (any, error) {
	var args screenshotArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	var png []byte
	var pageURL string
	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		var err error
		png, err = h.Screenshot(ctx)
		pageURL = h.URL()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := map[string]any{"bytes": len(png), "url": pageURL}
	if args.Tag != "" {
		out["tag"] = args.Tag
	}
	if t.shots != nil {
		cc, _ := tools.CallContextFrom(ctx)
		location, err := t.shots.Save(ctx, cc.ThreadID, args.Tag, png)
		if err != nil {
			return nil, err
		}
		out["location"] = location
	}
	return out, nil
}

func (t *Toolset) sleepMS(ctx context.Context, raw tools.Args) (any, error) {
	ms := raw.Int("milliseconds", 0)
	d := msDuration(ms)
	if d < 0 || d > maxSleep {
		return nil, tools.InvalidArguments("milliseconds must be between 0 and %d", maxSleep.Milliseconds())
	}
	if err := t.sleep(ctx, d); err != nil {
		return nil, err
	}
	return map[string]any{"duration_ms": ms}, nil
}

func (t *Toolset) closeSession(ctx context.Context, raw tools.Args) (any, error) {
	id, err := t.resolve(ctx, raw.String("session_id"))
	if err != nil {
		return nil, err
	}
	if err := t.pool.Close(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": id, "closed": true}, nil
}

func (t *Toolset) navigateToLineup(ctx context.Context, raw tools.Args) (any, error) {
	var args lineupNavArgs
	if err := raw.Decode(&args); err != nil {
		return nil, err
	}
	target := fmt.Sprintf(sleeperLineupPath, url.PathEscape(args.LeagueID), args.Week)
	var current string
	var loaded bool
	err := t.borrow(ctx, args.SessionID, func(h *Handle) error {
		var err error
		if current, err = h.Navigate(ctx, target); err != nil {
			return err
		}
		_, err = firstVisible(ctx, h, selLineupContainer, lineupTimeout/time.Duration(len(selLineupContainer)))
		loaded = err == nil
		current = h.URL()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"league_id":     args.LeagueID,
		"week":          args.Week,
		"url":           current,
		"lineup_loaded": loaded,
	}, nil
}

// sleeperLogin signs the session owner into Sleeper. The secret only flows
// into page inputs; it never appears in results or logs.
func (t *Toolset) sleeperLogin(ctx context.Context, raw tools.Args) (any, error) {
	if t.secrets == nil {
		return nil, errors.New("no credential store configured")
	}
	id, err := t.resolve(ctx, raw.String("session_id"))
	if err != nil {
		return nil, err
	}
	session, ok := t.pool.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	secret, err := t.secrets.GetSecret(ctx, session.OwnerID)
	if errors.Is(err, credentials.ErrNotFound) || (err == nil && !secret.Valid()) {
		return nil, errors.New("no Sleeper credentials saved for this user")
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	t.logger.Info("logging into Sleeper", "session_id", id, "sso", secret.UseSSO)
	var current string
	err = t.pool.Borrow(ctx, id, func(h *Handle) error {
		if _, err := h.Navigate(ctx, sleeperHome); err != nil {
			return err
		}
		// The login form may already be showing.
		if sel, err := firstVisible(ctx, h, selLoginButton, probeTimeout); err == nil {
			if err := h.Click(ctx, sel, probeTimeout); err != nil {
				return err
			}
		}
		if secret.UseSSO {
			if err := t.ssoLogin(ctx, h); err != nil {
				return err
			}
			current = h.URL()
			return nil
		}
		if err := fillFirst(ctx, h, selEmailInput, secret.Email); err != nil {
			return fmt.Errorf("email field: %w", err)
		}
		if err := fillFirst(ctx, h, selPasswordInput, secret.Password); err != nil {
			return fmt.Errorf("password field: %w", err)
		}
		sel, err := firstVisible(ctx, h, selLoginButton, probeTimeout)
		if err != nil {
			return fmt.Errorf("login button: %w", err)
		}
		if err := h.Click(ctx, sel, probeTimeout); err != nil {
			return err
		}
		if err := t.sleep(ctx, settleDelay); err != nil {
			return err
		}
		current = h.URL()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !onSleeper(current) {
		return nil, fmt.Errorf("login verification failed at %s", current)
	}
	return map[string]any{
		"session_id": id,
		"url":        current,
		"logged_in":  true,
	}, nil
}

// ssoLogin starts Google sign-in and waits for the user to finish it and
// land back on Sleeper.
func (t *Toolset) ssoLogin(ctx context.Context, h *Handle) error {
	sel, err := firstVisible(ctx, h, selGoogleSSO, probeTimeout)
	if err != nil {
		return fmt.Errorf("google sign-in button: %w", err)
	}
	if err := h.Click(ctx, sel, probeTimeout); err != nil {
		return err
	}
	deadline := time.Now().Add(ssoWait)
	for time.Now().Before(deadline) {
		if err := t.sleep(ctx, pollInterval); err != nil {
			return err
		}
		if onSleeper(h.URL()) {
			return nil
		}
	}
	return tools.Errorf(models.ToolErrorTimeout, "google sign-in not completed within %s", ssoWait)
}

func firstVisible(ctx context.Context, h *Handle, candidates []string, timeout time.Duration) (string, error) {
	var lastErr error
	for _, sel := range candidates {
		err := h.WaitFor(ctx, sel, WaitVisible, timeout)
		if err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", lastErr
}

func fillFirst(ctx context.Context, h *Handle, candidates []string, text string) error {
	sel, err := firstVisible(ctx, h, candidates, probeTimeout)
	if err != nil {
		return err
	}
	return h.Fill(ctx, sel, text, true, probeTimeout)
}

func onSleeper(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range []string{"sleeper.com", "sleeper.app"} {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
