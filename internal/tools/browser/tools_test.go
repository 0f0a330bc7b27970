package browser

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/gridiron/internal/credentials"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/pkg/models"
)

type toolHarness struct {
	driver     *fakeDriver
	pool       *Pool
	dispatcher *tools.Dispatcher
	secrets    *credentials.MemoryStore
	ctx        context.Context
}

func newToolHarness(t *testing.T, opts ...ToolsetOption) *toolHarness {
	t.Helper()
	driver := &fakeDriver{}
	pool, _ := newTestPool(driver, Config{})
	secrets := credentials.NewMemoryStore()
	toolset := NewToolset(pool, secrets, opts...)
	toolset.sleep = func(context.Context, time.Duration) error { return nil }

	reg := tools.NewRegistry()
	if err := toolset.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ctx := tools.WithCallContext(context.Background(), tools.CallContext{
		ThreadID: "thread-1",
		Values:   map[string]any{"user_id": "user-1"},
	})
	return &toolHarness{
		driver:     driver,
		pool:       pool,
		dispatcher: tools.NewDispatcher(reg, tools.DefaultConfig()),
		secrets:    secrets,
		ctx:        ctx,
	}
}

func (h *toolHarness) call(t *testing.T, name, args string) *models.ToolResult {
	t.Helper()
	results := h.dispatcher.Dispatch(h.ctx, []models.ToolCall{{ID: "call-" + name, Name: name, Arguments: json.RawMessage(args)}})
	return results[0]
}

func (h *toolHarness) start(t *testing.T) string {
	t.Helper()
	res := h.call(t, "start_browser_session", `{}`)
	if !res.OK() {
		t.Fatalf("start_browser_session failed: %s", res.Message)
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		t.Fatal(err)
	}
	return out.SessionID
}

func TestToolsetRegistersAllTools(t *testing.T) {
	reg := tools.NewRegistry()
	pool, _ := newTestPool(&fakeDriver{}, Config{})
	if err := NewToolset(pool, nil).Register(reg); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"click_element", "close_browser_session", "navigate_to_lineup", "open_page",
		"press_key", "sleep_ms", "sleeper_login", "start_browser_session",
		"take_screenshot", "type_text", "wait_for_element",
	}
	defs := reg.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("Definitions() = %d tools, want %d", len(defs), len(want))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("tool %d = %s, want %s", i, def.Name, want[i])
		}
	}
}

func TestOpenPageBlockedDomain(t *testing.T) {
	h := newToolHarness(t)
	h.start(t)

	res := h.call(t, "open_page", `{"url":"https://evil.example.com"}`)
	if res.OK() || res.ErrorKind != models.ToolErrorPolicyViolation {
		t.Fatalf("open_page result = %+v, want PolicyViolation", res)
	}
	if n := h.driver.page(0).navigations(); n != 0 {
		t.Errorf("navigations = %d, want 0", n)
	}
}

func TestOpenPageUsesOwnersSession(t *testing.T) {
	h := newToolHarness(t)
	id := h.start(t)

	res := h.call(t, "open_page", `{"url":"https://sleeper.com/"}`)
	if !res.OK() {
		t.Fatalf("open_page failed: %s", res.Message)
	}
	var out map[string]any
	_ = json.Unmarshal(res.Payload, &out)
	if out["url"] != "https://sleeper.com/" || out["title"] != "Sleeper" {
		t.Errorf("payload = %v", out)
	}
	rec, _ := h.pool.Get(id)
	if rec.CurrentURL != "https://sleeper.com/" {
		t.Errorf("CurrentURL = %q", rec.CurrentURL)
	}
}

func TestSessionToolsWithoutSession(t *testing.T) {
	h := newToolHarness(t)
	res := h.call(t, "click_element", `{"selector":"#go"}`)
	if res.OK() || res.ErrorKind != models.ToolErrorHandlerFault {
		t.Fatalf("result = %+v, want HandlerFault", res)
	}
	if !strings.Contains(res.Message, "start_browser_session") {
		t.Errorf("message = %q", res.Message)
	}
}

func TestTypeTextSecureMasksResult(t *testing.T) {
	h := newToolHarness(t)
	h.start(t)

	res := h.call(t, "type_text", `{"selector":"#password","text":"hunter2","secure":true}`)
	if !res.OK() {
		t.Fatalf("type_text failed: %s", res.Message)
	}
	if strings.Contains(string(res.Payload), "hunter2") {
		t.Errorf("payload leaks secret: %s", res.Payload)
	}
	if got := h.driver.page(0).fills["#password"]; got != "hunter2" {
		t.Errorf("page received %q", got)
	}
}

func TestToolArgumentValidation(t *testing.T) {
	h := newToolHarness(t)
	tests := []struct {
		tool string
		args string
	}{
		{"open_page", `{}`},
		{"click_element", `{"selector":1}`},
		{"wait_for_element", `{"selector":"#a","state":"gone"}`},
		{"sleep_ms", `{"milliseconds":600000}`},
		{"navigate_to_lineup", `{"league_id":"1","week":30}`},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res := h.call(t, tt.tool, tt.args)
			if res.ErrorKind != models.ToolErrorInvalidArguments {
				t.Errorf("%s(%s) = %+v, want InvalidArguments", tt.tool, tt.args, res)
			}
		})
	}
}

func TestSleeperLogin(t *testing.T) {
	h := newToolHarness(t)
	h.secrets.Set("user-1", credentials.Secret{Email: "coach@example.com", Password: "s3cret"})
	h.start(t)

	res := h.call(t, "sleeper_login", `{}`)
	if !res.OK() {
		t.Fatalf("sleeper_login failed: %s", res.Message)
	}
	if strings.Contains(string(res.Payload), "s3cret") || strings.Contains(string(res.Payload), "coach@") {
		t.Errorf("payload leaks credentials: %s", res.Payload)
	}
	page := h.driver.page(0)
	if page.fills[selEmailInput[0]] != "coach@example.com" {
		t.Errorf("email fill = %q", page.fills[selEmailInput[0]])
	}
	if page.fills[selPasswordInput[0]] != "s3cret" {
		t.Error("password not filled")
	}
	if page.URL() != sleeperHome {
		t.Errorf("URL = %q", page.URL())
	}
}

func TestSleeperLoginWithoutCredentials(t *testing.T) {
	h := newToolHarness(t)
	h.start(t)
	res := h.call(t, "sleeper_login", `{}`)
	if res.OK() || !strings.Contains(res.Message, "no Sleeper credentials") {
		t.Fatalf("result = %+v", res)
	}
}

func TestNavigateToLineup(t *testing.T) {
	h := newToolHarness(t)
	h.start(t)
	res := h.call(t, "navigate_to_lineup", `{"league_id":"1180","week":6}`)
	if !res.OK() {
		t.Fatalf("navigate_to_lineup failed: %s", res.Message)
	}
	var out map[string]any
	_ = json.Unmarshal(res.Payload, &out)
	if out["url"] != "https://sleeper.com/leagues/1180/6" || out["lineup_loaded"] != true {
		t.Errorf("payload = %v", out)
	}
}

type memorySink struct {
	thread, tag string
	size        int
}

func (m *memorySink) Save(_ context.Context, threadID, tag string, png []byte) (string, error) {
	m.thread, m.tag, m.size = threadID, tag, len(png)
	return "mem://" + tag, nil
}

func TestTakeScreenshotStoresImage(t *testing.T) {
	sink := &memorySink{}
	h := newToolHarness(t, WithScreenshots(sink))
	h.start(t)
	res := h.call(t, "take_screenshot", `{"tag":"before_swap"}`)
	if !res.OK() {
		t.Fatalf("take_screenshot failed: %s", res.Message)
	}
	if sink.thread != "thread-1" || sink.tag != "before_swap" || sink.size == 0 {
		t.Errorf("sink = %+v", sink)
	}
	if !strings.Contains(string(res.Payload), "mem://before_swap") {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestCloseBrowserSession(t *testing.T) {
	h := newToolHarness(t)
	id := h.start(t)
	res := h.call(t, "close_browser_session", `{}`)
	if !res.OK() {
		t.Fatalf("close failed: %s", res.Message)
	}
	if _, ok := h.pool.Get(id); ok {
		t.Error("session still live")
	}
}
