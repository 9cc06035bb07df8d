// Package fetchrod implements platform.Fetcher over a headless Chrome
// instance driven by go-rod, so pages that render their spec tables via
// client-side JavaScript are fetched the same way a browser would see
// them.
package fetchrod

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/ids"
)

// Config controls how the underlying browser is launched.
type Config struct {
	Headless            bool
	NavigationTimeoutMs  int
	NetworkIdleTimeoutMs int
}

// DefaultConfig returns sensible defaults for a headless fetch worker.
func DefaultConfig() Config {
	return Config{Headless: true, NavigationTimeoutMs: 20000, NetworkIdleTimeoutMs: 5000}
}

// Fetcher drives one shared headless browser instance. Safe for
// concurrent Fetch calls; go-rod pages are independent once created.
type Fetcher struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
}

// New launches (lazily, on first Fetch) a headless browser controlled
// via go-rod's launcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{cfg: cfg}
}

func (f *Fetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL, err := launcher.New().Headless(f.cfg.Headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	f.browser = browser
	return browser, nil
}

// Fetch implements platform.Fetcher by navigating to req.URL, waiting
// for the network to go idle, and returning the rendered HTML.
func (f *Fetcher) Fetch(ctx context.Context, req platform.FetchRequest) (platform.FetchResult, error) {
	browser, err := f.ensureBrowser()
	if err != nil {
		return platform.FetchResult{Status: -1}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(f.cfg.NavigationTimeoutMs) * time.Millisecond
	}
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := browser.Context(pageCtx).Page(proto.TargetCreateTarget{URL: req.URL})
	if err != nil {
		logging.FetchError("navigate to %s: %v", req.URL, err)
		return platform.FetchResult{Status: -1}, fmt.Errorf("open page %s: %w", req.URL, err)
	}
	defer page.Close()

	idleWait := time.Duration(f.cfg.NetworkIdleTimeoutMs) * time.Millisecond
	if err := page.Context(pageCtx).WaitStable(idleWait); err != nil {
		logging.FetchWarn("DOM did not stabilize for %s: %v", req.URL, err)
	}

	html, err := page.HTML()
	if err != nil {
		return platform.FetchResult{Status: -1}, fmt.Errorf("read page html %s: %w", req.URL, err)
	}

	info, err := page.Info()
	finalURL := req.URL
	if err == nil && info != nil {
		finalURL = info.URL
	}

	content := []byte(html)
	logging.Fetch("fetched %s (%d bytes, final_url=%s)", req.URL, len(content), finalURL)
	return platform.FetchResult{
		Status:          200,
		Bytes:           content,
		FinalURL:        finalURL,
		TextHash:        ids.ContentHash(content),
		PageContentHash: ids.ContentHash(content),
	}, nil
}

// Close shuts down the underlying browser process.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	return f.browser.Close()
}
