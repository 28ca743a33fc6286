package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/bakkerme/grailwatch/internal/config"
	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/retry"
)

// feedSite polls a marketplace search RSS/Atom feed. The keyword replaces
// the {query} placeholder in the configured URL template.
type feedSite struct {
	cfg    config.Feed
	logger *slog.Logger

	parse func(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

func NewFeed(cfg config.Feed, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: 20 * time.Second}
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &feedSite{
		cfg:    cfg,
		logger: logger,
		parse: func(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
			return parser.ParseURLWithContext(feedURL, ctx)
		},
	}
}

func (f *feedSite) Name() string {
	return f.cfg.Name
}

func (f *feedSite) FetchListings(ctx context.Context, keyword string, limit int) ([]listing.Listing, error) {
	feedURL := strings.ReplaceAll(f.cfg.URLTemplate, "{query}", url.QueryEscape(keyword))

	var feed *gofeed.Feed
	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
		parsed, err := f.parse(ctx, feedURL)
		if err != nil {
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	out := make([]listing.Listing, 0, limit)
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = f.cfg.Name + " listing"
		}
		out = append(out, listing.Listing{
			Site:      f.cfg.Name,
			Title:     listing.CleanTitle(title),
			URL:       item.Link,
			ImageURLs: feedItemImages(item),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	f.logger.Debug("feed fetched", "feed", f.cfg.Name, "keyword", keyword, "items", len(feed.Items), "listings", len(out))
	return out, nil
}

// feedItemImages collects photo URLs from the item's image, enclosures and
// any <img> tags inside the item HTML.
func feedItemImages(item *gofeed.Item) []string {
	var images []string
	seen := map[string]bool{}
	add := func(src string) {
		src = strings.TrimSpace(src)
		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			return
		}
		if !seen[src] {
			seen[src] = true
			images = append(images, src)
		}
	}

	if item.Image != nil {
		add(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}
	for _, htmlText := range []string{item.Content, item.Description} {
		for _, src := range imgSrcsFromHTML(htmlText) {
			add(src)
		}
	}
	return images
}

// imgSrcsFromHTML pulls <img> sources out of a partial HTML fragment.
func imgSrcsFromHTML(htmlText string) []string {
	if htmlText == "" || !strings.Contains(strings.ToLower(htmlText), "<img") {
		return nil
	}

	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(htmlText), root)
	if err != nil {
		return nil
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	var srcs []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "img") {
			src := attrValue(n, "src")
			if src == "" {
				// Some feeds use lazy-loading attrs.
				src = firstNonEmpty(attrValue(n, "data-src"), attrValue(n, "data-original"), attrValue(n, "data-lazy-src"))
			}
			if src != "" {
				srcs = append(srcs, src)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return srcs
}

func attrValue(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
