package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/haasonsaas/gridiron/internal/net/egress"
)

// PlaywrightConfig configures the Playwright driver.
type PlaywrightConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	// BlockTrackers aborts requests to analytics and ad hosts.
	BlockTrackers bool
	// Policy, when set, aborts top-level document loads it rejects, so
	// clicks and redirects stay on the allow-list.
	Policy *egress.Policy
	// SkipInstall assumes browsers are already installed.
	SkipInstall bool
}

// PlaywrightDriver launches one Chromium process lazily and gives each
// session its own browser context.
type PlaywrightDriver struct {
	config PlaywrightConfig

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	next    int
	closed  bool
}

// NewPlaywrightDriver creates a driver. Nothing is launched until the
// first page is requested.
func NewPlaywrightDriver(config PlaywrightConfig) *PlaywrightDriver {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ViewportWidth == 0 {
		config.ViewportWidth = 1920
	}
	if config.ViewportHeight == 0 {
		config.ViewportHeight = 1080
	}
	return &PlaywrightDriver{config: config}
}

func (d *PlaywrightDriver) launch() (playwright.Browser, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, "", errors.New("playwright driver is closed")
	}
	if d.browser == nil {
		if !d.config.SkipInstall {
			if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
				return nil, "", fmt.Errorf("failed to install playwright: %w", err)
			}
		}
		pw, err := playwright.Run()
		if err != nil {
			return nil, "", fmt.Errorf("failed to start playwright: %w", err)
		}
		browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(d.config.Headless),
			Timeout:  playwright.Float(float64(d.config.Timeout.Milliseconds())),
		})
		if err != nil {
			_ = pw.Stop()
			return nil, "", fmt.Errorf("failed to launch browser: %w", err)
		}
		d.pw = pw
		d.browser = browser
	}
	ua := userAgents[d.next%len(userAgents)]
	d.next++
	return d.browser, ua, nil
}

// NewPage opens an isolated browser context with one page.
func (d *PlaywrightDriver) NewPage(ctx context.Context, ownerID string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, ua, err := d.launch()
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(ua),
		Viewport: &playwright.Size{
			Width:  d.config.ViewportWidth,
			Height: d.config.ViewportHeight,
		},
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if d.config.BlockTrackers || d.config.Policy != nil {
		err := bctx.Route("**/*", func(route playwright.Route) {
			req := route.Request()
			if blockRequest(d.config.Policy, d.config.BlockTrackers, req.URL(), isMainDocument(req)) {
				_ = route.Abort("blockedbyclient")
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to install request filter: %w", err)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.config.Timeout.Milliseconds()))
	return &playwrightPage{bctx: bctx, page: page}, nil
}

// isMainDocument reports whether req loads the page's top-level document.
// A navigation whose frame is not attached yet counts as top-level.
func isMainDocument(req playwright.Request) bool {
	if !req.IsNavigationRequest() || req.ResourceType() != "document" {
		return false
	}
	frame := req.Frame()
	return frame == nil || frame.ParentFrame() == nil
}

// Close stops the browser and the Playwright driver process.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Click(selector, playwright.PageClickOptions{Timeout: ms(timeout)})
}

func (p *playwrightPage) Fill(ctx context.Context, selector, text string, clear bool, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if clear {
		return p.page.Fill(selector, text, playwright.PageFillOptions{Timeout: ms(timeout)})
	}
	return p.page.Type(selector, text, playwright.PageTypeOptions{Timeout: ms(timeout)})
}

func (p *playwrightPage) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard().Press(key)
}

func (p *playwrightPage) WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwrightState(state),
		Timeout: ms(timeout),
	})
	return err
}

func playwrightState(state WaitState) *playwright.WaitForSelectorState {
	switch state {
	case WaitHidden:
		return playwright.WaitForSelectorStateHidden
	case WaitAttached:
		return playwright.WaitForSelectorStateAttached
	case WaitDetached:
		return playwright.WaitForSelectorStateDetached
	default:
		return playwright.WaitForSelectorStateVisible
	}
}

func (p *playwrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Title()
}

func (p *playwrightPage) Close() error {
	return p.bctx.Close()
}
