package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ChromedpConfig configures the chromedp driver.
type ChromedpConfig struct {
	Headless bool
	// ExecPath overrides the Chrome binary.
	ExecPath string
	// DebugURL attaches to a running browser instead of launching one.
	DebugURL       string
	ViewportWidth  int
	ViewportHeight int
}

// ChromedpDriver drives Chrome over the DevTools protocol. Locally each
// session gets its own Chrome process and profile; with a DebugURL each
// session is a tab in the remote browser.
type ChromedpDriver struct {
	config ChromedpConfig

	mu   sync.Mutex
	next int
}

// NewChromedpDriver creates a chromedp driver.
func NewChromedpDriver(config ChromedpConfig) *ChromedpDriver {
	if config.ViewportWidth == 0 {
		config.ViewportWidth = 1920
	}
	if config.ViewportHeight == 0 {
		config.ViewportHeight = 1080
	}
	return &ChromedpDriver{config: config}
}

func (d *ChromedpDriver) userAgent() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ua := userAgents[d.next%len(userAgents)]
	d.next++
	return ua
}

// NewPage starts a browser tab. The tab lives until the page is closed,
// independent of ctx.
func (d *ChromedpDriver) NewPage(ctx context.Context, ownerID string) (Page, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if d.config.DebugURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), d.config.DebugURL)
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.Flag("headless", d.config.Headless),
			chromedp.UserAgent(d.userAgent()),
			chromedp.WindowSize(d.config.ViewportWidth, d.config.ViewportHeight),
		)
		if d.config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(d.config.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser and tab.
	runCtx, stop := linked(taskCtx, ctx, 0)
	defer stop()
	if err := chromedp.Run(runCtx); err != nil {
		taskCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	return &chromedpPage{
		ctx: taskCtx,
		cancel: func() {
			taskCancel()
			allocCancel()
		},
	}, nil
}

// Close is a no-op; each page owns its browser.
func (d *ChromedpDriver) Close() error {
	return nil
}

// linked derives a context from the tab context that is also cancelled
// when caller is done, with an optional timeout.
func linked(tab, caller context.Context, timeout time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancel(tab)
	if timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, timeout)
		prev := cancel
		cancel = func() { tcancel(); prev() }
	}
	stopAfter := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

type chromedpPage struct {
	ctx    context.Context
	cancel func()

	mu  sync.Mutex
	url string
}

func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, stop := linked(p.ctx, ctx, timeout)
	defer stop()
	var loc string
	actions = append(actions, chromedp.Location(&loc))
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = loc
	p.mu.Unlock()
	return nil
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, 0, chromedp.Navigate(url))
}

func (p *chromedpPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (p *chromedpPage) Fill(ctx context.Context, selector, text string, clear bool, timeout time.Duration) error {
	actions := []chromedp.Action{chromedp.WaitVisible(selector, chromedp.ByQuery)}
	if clear {
		actions = append(actions, chromedp.Clear(selector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	return p.run(ctx, timeout, actions...)
}

var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
}

func (p *chromedpPage) Press(ctx context.Context, key string) error {
	if named, ok := namedKeys[key]; ok {
		key = named
	}
	return p.run(ctx, 0, chromedp.KeyEvent(key))
}

func (p *chromedpPage) WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	var action chromedp.Action
	switch state {
	case WaitHidden:
		action = chromedp.WaitNotVisible(selector, chromedp.ByQuery)
	case WaitAttached:
		action = chromedp.WaitReady(selector, chromedp.ByQuery)
	case WaitDetached:
		action = chromedp.WaitNotPresent(selector, chromedp.ByQuery)
	default:
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	}
	return p.run(ctx, timeout, action)
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, 0, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}
