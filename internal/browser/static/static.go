// Package static loads pages over plain HTTP and evaluates selectors with
// goquery. It serves projects whose targets render server-side, avoiding the
// cost of a Chrome process per run.
package static

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Launcher implements scraper.Launcher over colly.
type Launcher struct {
	cfg Config
}

// NewLauncher builds a Launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// Launch returns a session. HTTP needs no process to boot, so launching is
// cheap and never fails.
func (l *Launcher) Launch(_ context.Context) (scraper.Browser, error) {
	base := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	base.SetRequestTimeout(l.cfg.Timeout)
	if l.cfg.UserAgent != "" {
		base.UserAgent = l.cfg.UserAgent
	}
	return &Browser{base: base}, nil
}

// Browser is one HTTP scraping session sharing a base collector.
type Browser struct {
	base *colly.Collector
}

// NewPage returns an unloaded page backed by a collector clone.
func (b *Browser) NewPage(_ context.Context) (scraper.Page, error) {
	return &Page{collector: b.base.Clone()}, nil
}

// Close releases the session; plain HTTP holds nothing to tear down.
func (b *Browser) Close() error {
	return nil
}

// Page is one fetched document.
type Page struct {
	collector *colly.Collector
	doc       *goquery.Document
}

// Navigate fetches the URL and parses the response body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	var (
		body     []byte
		fetchErr error
	)
	c := p.collector.Clone()
	c.OnResponse(func(resp *colly.Response) {
		body = resp.Body
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})
	if err := c.Visit(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	c.Wait()
	if fetchErr != nil {
		return fmt.Errorf("navigate %s: %w", url, fetchErr)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	p.doc = doc
	return nil
}

// Title returns the document title.
func (p *Page) Title(_ context.Context) (string, error) {
	if p.doc == nil {
		return "", fmt.Errorf("page not loaded")
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

// Text extracts the text content of the first matching element.
func (p *Page) Text(_ context.Context, selector string) (string, error) {
	sel, err := p.first(selector)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sel.Text()), nil
}

// HTML extracts the inner HTML of the first matching element.
func (p *Page) HTML(_ context.Context, selector string) (string, error) {
	sel, err := p.first(selector)
	if err != nil {
		return "", err
	}
	html, err := sel.Html()
	if err != nil {
		return "", fmt.Errorf("html %q: %w", selector, err)
	}
	return html, nil
}

// Attribute extracts a named attribute from the first matching element.
func (p *Page) Attribute(_ context.Context, selector, name string) (string, error) {
	sel, err := p.first(selector)
	if err != nil {
		return "", err
	}
	value, ok := sel.Attr(name)
	if !ok {
		return "", fmt.Errorf("attribute %q not present on %q", name, selector)
	}
	return value, nil
}

// Close releases the page. The parsed document is garbage once dereferenced.
func (p *Page) Close() error {
	p.doc = nil
	return nil
}

func (p *Page) first(selector string) (*goquery.Selection, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("page not loaded")
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("selector %q matched nothing", selector)
	}
	return sel, nil
}
