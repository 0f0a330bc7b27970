package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakePage struct {
	mu        sync.Mutex
	url       string
	actions   []string
	fills     map[string]string
	missing   map[string]bool
	closed    bool
	navigated int
	delay     time.Duration
	inFlight  *atomic.Int32
	maxFlight *atomic.Int32
}

func (p *fakePage) record(action string) {
	if p.inFlight != nil {
		n := p.inFlight.Add(1)
		for {
			prev := p.maxFlight.Load()
			if n <= prev || p.maxFlight.CompareAndSwap(prev, n) {
				break
			}
		}
		defer p.inFlight.Add(-1)
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.actions = append(p.actions, action)
	p.mu.Unlock()
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.record("navigate " + url)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.navigated++
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string, _ time.Duration) error {
	p.record("click " + selector)
	return nil
}

func (p *fakePage) Fill(_ context.Context, selector, text string, _ bool, _ time.Duration) error {
	p.record("fill " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fills == nil {
		p.fills = make(map[string]string)
	}
	p.fills[selector] = text
	return nil
}

func (p *fakePage) Press(_ context.Context, key string) error {
	p.record("press " + key)
	return nil
}

func (p *fakePage) WaitFor(_ context.Context, selector string, _ WaitState, _ time.Duration) error {
	p.mu.Lock()
	missing := p.missing[selector]
	p.mu.Unlock()
	if missing {
		return errors.New("timeout")
	}
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.record("screenshot")
	return []byte("\x89PNG fake"), nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Title(context.Context) (string, error) {
	return "Sleeper", nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) navigations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeDriver struct {
	mu      sync.Mutex
	pages   []*fakePage
	newErr  error
	closed  bool
	prepare func(*fakePage)
}

func (d *fakeDriver) NewPage(context.Context, string) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.newErr != nil {
		return nil, d.newErr
	}
	page := &fakePage{}
	if d.prepare != nil {
		d.prepare(page)
	}
	d.pages = append(d.pages, page)
	return page, nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) page(i int) *fakePage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pages[i]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(driver Driver, cfg Config, opts ...Option) (*Pool, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 10, 12, 17, 0, 0, 0, time.UTC)}
	pool := NewPool(driver, cfg, opts...)
	pool.now = clock.Now
	pool.pause = func(context.Context, time.Duration) error { return nil }
	return pool, clock
}
