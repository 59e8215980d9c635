// File: internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/lukerm/parallellm-qa/internal/config"
)

// Session is the capability surface the action registries operate on: a
// stateful remote browser session with named, JSON-friendly operations.
type Session interface {
	Navigate(ctx context.Context, url string) (string, error)
	Click(ctx context.Context, selector, by string) error
	Type(ctx context.Context, selector, by, text string) error
	PageHTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	ElementExists(ctx context.Context, selector string) (bool, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Manager owns the headless browser process and the single tab used for a QA
// run. All operations run against the same chromedp context, so page state
// (cookies, login session) persists across flows.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

// NewManager launches the browser process and verifies it is responsive.
func NewManager(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx)

	// Confirm the browser starts and responds before handing it out.
	probeCtx, cancel := context.WithTimeout(m.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.Close()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched",
		zap.Bool("headless", cfg.Headless),
		zap.Int("width", cfg.WindowWidth), zap.Int("height", cfg.WindowHeight))
	return m, nil
}

// Close terminates the tab and the browser process.
func (m *Manager) Close() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
}

// run executes chromedp actions on the managed tab, bounded by the caller's
// context and the configured navigation timeout.
func (m *Manager) run(ctx context.Context, actions ...chromedp.Action) error {
	timeout := m.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	runCtx, cancel := context.WithTimeout(m.browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// querySelector translates a (selector, strategy) pair into a chromedp
// query. Supported strategies: css, id, name, xpath.
func querySelector(selector, by string) (string, chromedp.QueryOption, error) {
	switch by {
	case "css", "":
		return selector, chromedp.ByQuery, nil
	case "id":
		return "#" + selector, chromedp.ByQuery, nil
	case "name":
		return fmt.Sprintf(`[name=%q]`, selector), chromedp.ByQuery, nil
	case "xpath":
		return selector, chromedp.BySearch, nil
	}
	return "", nil, fmt.Errorf("unsupported selector strategy: %s", by)
}

// Navigate loads a URL and returns the resulting location.
func (m *Manager) Navigate(ctx context.Context, url string) (string, error) {
	var location string
	if err := m.run(ctx, chromedp.Navigate(url), chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	return location, nil
}

// Click clicks the first element matching the selector.
func (m *Manager) Click(ctx context.Context, selector, by string) error {
	sel, opt, err := querySelector(selector, by)
	if err != nil {
		return err
	}
	if err := m.run(ctx, chromedp.Click(sel, opt)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Type clears the matching element and types text into it.
func (m *Manager) Type(ctx context.Context, selector, by, text string) error {
	sel, opt, err := querySelector(selector, by)
	if err != nil {
		return err
	}
	if err := m.run(ctx, chromedp.Clear(sel, opt), chromedp.SendKeys(sel, text, opt)); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// PageHTML returns the full current document markup.
func (m *Manager) PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := m.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("fetch page html: %w", err)
	}
	return html, nil
}

// CurrentURL returns the tab's current location.
func (m *Manager) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := m.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read current url: %w", err)
	}
	return location, nil
}

// ElementExists reports whether any element matches the CSS selector.
func (m *Manager) ElementExists(ctx context.Context, selector string) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := m.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, fmt.Errorf("query %s: %w", selector, err)
	}
	return found, nil
}

// Screenshot captures the current viewport as PNG bytes.
func (m *Manager) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := m.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}
