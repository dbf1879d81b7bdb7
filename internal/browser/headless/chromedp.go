// Package headless drives real pages through headless Chrome via chromedp.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Config controls the behavior of the headless browser.
type Config struct {
	UserAgent string
	// NavigationTimeout bounds page loads; a timeout is a per-URL failure,
	// not a run failure.
	NavigationTimeout time.Duration
	// OperationTimeout bounds individual selector reads so one missing
	// element cannot stall sibling fields.
	OperationTimeout time.Duration
	// Windowed launches a visible Chrome window instead of the new headless
	// mode, for debugging selectors locally.
	Windowed bool
}

// Launcher implements scraper.Launcher using chromedp.
type Launcher struct {
	cfg Config
}

// NewLauncher builds a Launcher with sane defaults.
func NewLauncher(cfg Config) *Launcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// Launch allocates one Chrome process scoped to a single run.
func (l *Launcher) Launch(ctx context.Context) (scraper.Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if l.cfg.Windowed {
		// later flags win, so this overrides the default headless flag
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Browser{
		cfg:         l.cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Browser is one live Chrome session.
type Browser struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewPage opens a fresh tab. The first CDP round-trip happens here, so a
// crashed or unlaunchable Chrome surfaces as an error from NewPage.
func (b *Browser) NewPage(_ context.Context) (scraper.Page, error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	if err := chromedp.Run(taskCtx, b.setupAction()); err != nil {
		taskCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Page{cfg: b.cfg, ctx: taskCtx, cancel: taskCancel}, nil
}

// Close tears down the Chrome process and every page it owns.
func (b *Browser) Close() error {
	b.allocCancel()
	return nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Page is one Chrome tab.
type Page struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

// Navigate loads the URL and waits for the document to settle. WaitReady plus
// a short sleep approximates network-idle without hanging on long-polling
// pages.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	navCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Title returns the document title.
func (p *Page) Title(_ context.Context) (string, error) {
	opCtx, cancel := p.opContext()
	defer cancel()

	var title string
	if err := chromedp.Run(opCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Text extracts the rendered inner text of the first element matching the
// selector. A selector that never matches surfaces as a timeout error.
func (p *Page) Text(_ context.Context, selector string) (string, error) {
	opCtx, cancel := p.opContext()
	defer cancel()

	var value string
	if err := chromedp.Run(opCtx, chromedp.Text(selector, &value, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("text %q: %w", selector, err)
	}
	return value, nil
}

// HTML extracts the inner HTML of the first element matching the selector.
func (p *Page) HTML(_ context.Context, selector string) (string, error) {
	opCtx, cancel := p.opContext()
	defer cancel()

	var value string
	if err := chromedp.Run(opCtx, chromedp.InnerHTML(selector, &value, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("html %q: %w", selector, err)
	}
	return value, nil
}

// Attribute extracts a named attribute from the first element matching the
// selector.
func (p *Page) Attribute(_ context.Context, selector, name string) (string, error) {
	opCtx, cancel := p.opContext()
	defer cancel()

	var (
		value string
		ok    bool
	)
	if err := chromedp.Run(opCtx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("attribute %q of %q: %w", name, selector, err)
	}
	if !ok {
		return "", fmt.Errorf("attribute %q not present on %q", name, selector)
	}
	return value, nil
}

// Close disposes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func (p *Page) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.ctx, p.cfg.OperationTimeout)
}
