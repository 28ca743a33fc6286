package impl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/bakkerme/grailwatch/internal/render"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123 Safari/537.36"

// systemChromium is preferred when present so container images don't need
// rod's managed download.
const systemChromium = "/usr/bin/chromium-browser"

type Options struct {
	// Bin overrides the browser binary. Empty auto-detects a system
	// Chromium, then falls back to rod's managed download.
	Bin         string
	UserAgent   string
	NavTimeout  time.Duration
	BlockAssets bool
	Logger      *slog.Logger
}

// Renderer drives one headless Chromium with a single reused page. Render
// calls must not overlap; the scan loop navigates sequentially.
type Renderer struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	router     *rod.HijackRouter
	page       *rod.Page
	navTimeout time.Duration
	logger     *slog.Logger
}

func New(opts Options) (*Renderer, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 45 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage")
	switch {
	case opts.Bin != "":
		l = l.Bin(opts.Bin)
	default:
		if _, err := os.Stat(systemChromium); err == nil {
			l = l.Bin(systemChromium)
			logger.Debug("using system chromium", "bin", systemChromium)
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	r := &Renderer{
		launcher:   l,
		browser:    browser,
		navTimeout: opts.NavTimeout,
		logger:     logger,
	}

	if opts.BlockAssets {
		if err := r.blockAssets(); err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	r.page = page
	return r, nil
}

// blockAssets hijacks image, media and font requests. Search pages are only
// queried for URLs, never pixels, so skipping the heavy assets keeps
// navigations fast.
func (r *Renderer) blockAssets() error {
	router := r.browser.HijackRequests()
	fail := func(h *rod.Hijack) {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
	}
	for _, rt := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeMedia,
		proto.NetworkResourceTypeFont,
	} {
		if err := router.Add("*", rt, fail); err != nil {
			return fmt.Errorf("install request hijack: %w", err)
		}
	}
	go router.Run()
	r.router = router
	return nil
}

func (r *Renderer) Render(ctx context.Context, url string, settle time.Duration) (render.Document, error) {
	navCtx, cancel := context.WithTimeout(ctx, r.navTimeout)
	defer cancel()

	nav := r.page.Context(navCtx)
	if err := nav.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", url, err)
	}
	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &document{page: r.page.Context(ctx)}, nil
}

func (r *Renderer) Close() error {
	if r.router != nil {
		_ = r.router.Stop()
	}
	var err error
	if r.browser != nil {
		err = r.browser.Close()
	}
	if r.launcher != nil {
		r.launcher.Cleanup()
	}
	return err
}

// document wraps the live page. It is valid until the next Render call
// replaces the page contents.
type document struct {
	page *rod.Page
}

func (d *document) Anchors(selector string) ([]render.Anchor, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	anchors := make([]render.Anchor, 0, len(els))
	for _, el := range els {
		a := render.Anchor{
			Href:  attr(el, "href"),
			Title: attr(el, "title"),
		}
		if text, err := el.Text(); err == nil {
			a.Text = text
		}
		if img, err := el.Sleeper(rod.NotFoundSleeper).Element("img"); err == nil {
			a.ImageSrc = attr(img, "src")
			if a.ImageSrc == "" {
				a.ImageSrc = attr(img, "data-src")
			}
		}
		anchors = append(anchors, a)
	}
	return anchors, nil
}

func attr(el *rod.Element, name string) string {
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}
