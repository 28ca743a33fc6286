package mock

import (
	"context"
	"time"

	"github.com/bakkerme/grailwatch/internal/render"
)

// Document serves scripted anchors keyed by selector.
type Document struct {
	AnchorsBySelector map[string][]render.Anchor
	ErrBySelector     map[string]error
}

func (d *Document) Anchors(selector string) ([]render.Anchor, error) {
	if d.ErrBySelector != nil {
		if err, ok := d.ErrBySelector[selector]; ok {
			return nil, err
		}
	}
	return d.AnchorsBySelector[selector], nil
}

// Renderer serves scripted documents keyed by URL and records the calls it
// received.
type Renderer struct {
	DocsByURL map[string]*Document
	ErrByURL  map[string]error

	RenderedURLs []string
	Settles      []time.Duration
	Closed       bool
}

func (r *Renderer) Render(ctx context.Context, url string, settle time.Duration) (render.Document, error) {
	_ = ctx
	r.RenderedURLs = append(r.RenderedURLs, url)
	r.Settles = append(r.Settles, settle)
	if r.ErrByURL != nil {
		if err, ok := r.ErrByURL[url]; ok {
			return nil, err
		}
	}
	if doc, ok := r.DocsByURL[url]; ok {
		return doc, nil
	}
	return &Document{}, nil
}

func (r *Renderer) Close() error {
	r.Closed = true
	return nil
}
