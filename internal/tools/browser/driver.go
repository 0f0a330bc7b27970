package browser

import (
	"context"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/internal/net/egress"
)

// WaitState is the element state wait_for_element waits for.
type WaitState string

const (
	WaitVisible  WaitState = "visible"
	WaitHidden   WaitState = "hidden"
	WaitAttached WaitState = "attached"
	WaitDetached WaitState = "detached"
)

// Page is one isolated browser context with a single tab. Implementations
// need not be safe for concurrent use; the pool serializes access.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, text string, clear bool, timeout time.Duration) error
	Press(ctx context.Context, key string) error
	WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
	Title(ctx context.Context) (string, error)
	Close() error
}

// Driver creates pages. One driver serves the whole pool.
type Driver interface {
	NewPage(ctx context.Context, ownerID string) (Page, error)
	Close() error
}

// trackerHosts are request destinations aborted by drivers that support
// request interception.
var trackerHosts = []string{
	"doubleclick.net",
	"google-analytics.com",
	"analytics.google.com",
	"googletagmanager.com",
	"facebook.com/tr",
	"hotjar.com",
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2.1 Safari/605.1.15",
}

func isTracker(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, host := range trackerHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// blockRequest decides whether an intercepted request is aborted. Trackers
// are dropped when blockTrackers is set; a top-level document is dropped
// when policy rejects its URL.
func blockRequest(policy *egress.Policy, blockTrackers bool, rawURL string, mainDocument bool) bool {
	if blockTrackers && isTracker(rawURL) {
		return true
	}
	if policy != nil && mainDocument {
		if _, err := policy.Check(rawURL); err != nil {
			return true
		}
	}
	return false
}
