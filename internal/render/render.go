// Package render abstracts the headless browser behind a small interface so
// site adapters can be tested against scripted documents.
package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/bakkerme/grailwatch/internal/retry"
)

// Anchor is a link element pulled out of a rendered page, flattened to the
// attributes the card scraper consumes.
type Anchor struct {
	Href     string
	Title    string
	Text     string
	ImageSrc string
}

// Document is a rendered page ready for queries.
type Document interface {
	// Anchors returns every element matching the CSS selector, flattened to
	// its href, title attribute, inner text and first child image source.
	Anchors(selector string) ([]Anchor, error)
}

// Renderer navigates to a URL and returns the settled document. The settle
// duration is an extra wait after load for script-driven result grids to
// paint; marketplaces differ enough that callers pick it per site.
type Renderer interface {
	Render(ctx context.Context, url string, settle time.Duration) (Document, error)
	Close() error
}

type retryingRenderer struct {
	inner  Renderer
	cfg    retry.Config
	logger *slog.Logger
}

// WithRetry wraps a Renderer so transient navigation failures are retried
// with backoff before the caller gives up on a page.
func WithRetry(r Renderer, cfg retry.Config, logger *slog.Logger) Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingRenderer{inner: r, cfg: cfg, logger: logger}
}

func (r *retryingRenderer) Render(ctx context.Context, url string, settle time.Duration) (Document, error) {
	var doc Document
	attempt := 0
	err := retry.Do(ctx, r.cfg, func() error {
		attempt++
		d, err := r.inner.Render(ctx, url, settle)
		if err != nil {
			r.logger.Warn("navigation failed", "url", url, "attempt", attempt, "error", err)
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *retryingRenderer) Close() error {
	return r.inner.Close()
}
