package sites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/render"
)

// cardSpec parameterizes the card scrape engine for one marketplace. The
// sites differ only in URL shape, selectors and which anchor fields carry
// usable data; everything else is shared.
type cardSpec struct {
	name             string
	searchURL        func(keyword string) string
	linkSelector     string
	baseURL          string
	titlePlaceholder string
	// titleFromAttr prefers the anchor's title attribute over its inner
	// text. Some sites leave the attribute empty or stuff it with ARIA
	// noise, so it is opt-in per site.
	titleFromAttr bool
	settle        time.Duration
	// hrefSubstrings keeps only anchors whose href contains at least one
	// of these fragments. Empty keeps everything the selector matched.
	hrefSubstrings []string
	// skipImageless drops cards without a resolvable photo. Only useful on
	// sites whose result grids mix product and navigation links.
	skipImageless bool
}

// cardSite renders a search page and walks its result anchors. Malformed
// cards are skipped, never fatal; the engine only errors when the page
// itself cannot be rendered or queried.
type cardSite struct {
	spec     cardSpec
	renderer render.Renderer
	logger   *slog.Logger
}

func newCardSite(spec cardSpec, r render.Renderer, logger *slog.Logger) *cardSite {
	return &cardSite{spec: spec, renderer: r, logger: logger}
}

func (s *cardSite) Name() string {
	return s.spec.name
}

func (s *cardSite) FetchListings(ctx context.Context, keyword string, limit int) ([]listing.Listing, error) {
	searchURL := s.spec.searchURL(keyword)
	doc, err := s.renderer.Render(ctx, searchURL, s.spec.settle)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", searchURL, err)
	}
	anchors, err := doc.Anchors(s.spec.linkSelector)
	if err != nil {
		return nil, fmt.Errorf("query %s cards: %w", s.spec.name, err)
	}

	out := make([]listing.Listing, 0, limit)
	seen := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		href := strings.TrimSpace(a.Href)
		if href == "" {
			continue
		}
		if len(s.spec.hrefSubstrings) > 0 && !containsAny(href, s.spec.hrefSubstrings) {
			continue
		}
		if strings.HasPrefix(href, "/") {
			href = s.spec.baseURL + href
		}
		if _, dup := seen[href]; dup {
			continue
		}
		seen[href] = struct{}{}

		title := ""
		if s.spec.titleFromAttr {
			title = strings.TrimSpace(a.Title)
		}
		if title == "" {
			title = strings.TrimSpace(a.Text)
		}
		if title == "" {
			title = s.spec.titlePlaceholder
		}

		var images []string
		if src := strings.TrimSpace(a.ImageSrc); src != "" {
			images = append(images, src)
		}
		if s.spec.skipImageless && len(images) == 0 {
			continue
		}

		out = append(out, listing.Listing{
			Site:      s.spec.name,
			Title:     listing.CleanTitle(title),
			URL:       href,
			ImageURLs: images,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	s.logger.Debug("cards scraped", "site", s.spec.name, "keyword", keyword, "listings", len(out), "anchors", len(anchors))
	return out, nil
}

func containsAny(s string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}
