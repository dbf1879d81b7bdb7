// Package extract applies a declarative selector schema to a loaded page.
package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Engine extracts structured fields from pages. It only reads page state.
type Engine struct {
	logger *zap.Logger
}

// New constructs an Engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Extract resolves every schema field against the page and returns the
// field name to value mapping. Each field is attempted independently: a
// failure (selector not found, timeout, detached element) is logged and
// recorded as nil without aborting the remaining fields.
func (e *Engine) Extract(ctx context.Context, page scraper.Page, schema scraper.SelectorSchema) map[string]*string {
	fields := make(map[string]*string, len(schema))
	for name, field := range schema {
		value, err := e.extractField(ctx, page, field)
		if err != nil {
			e.logger.Warn("field extraction failed",
				zap.String("field", name),
				zap.String("selector", field.Selector),
				zap.Error(err),
			)
			fields[name] = nil
			continue
		}
		fields[name] = &value
	}
	return fields
}

func (e *Engine) extractField(ctx context.Context, page scraper.Page, field scraper.FieldSelector) (string, error) {
	switch field.Type {
	case scraper.FieldHTML:
		return page.HTML(ctx, field.Selector)
	case scraper.FieldLink:
		if field.Attribute != "" {
			return page.Attribute(ctx, field.Selector, field.Attribute)
		}
		// Link without an attribute is rejected at validation time, but a
		// permissive fallback keeps extraction total.
		return page.Text(ctx, field.Selector)
	case scraper.FieldText:
		return page.Text(ctx, field.Selector)
	default:
		// Unrecognized types fall back to text extraction.
		return page.Text(ctx, field.Selector)
	}
}
