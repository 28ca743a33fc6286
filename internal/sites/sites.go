// Package sites turns marketplace search results into normalized listings.
// Each marketplace is an Adapter; browser-backed ones share a single card
// scrape engine parameterized per site.
package sites

import (
	"context"
	"log/slog"

	"github.com/bakkerme/grailwatch/internal/config"
	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/render"
)

// Adapter produces listings for one marketplace. Implementations fail
// independently; an empty result is not an error.
type Adapter interface {
	Name() string
	FetchListings(ctx context.Context, keyword string, limit int) ([]listing.Listing, error)
}

// browserSites are the adapters that need a rendered page. Reddit and feeds
// go through plain HTTP APIs instead.
var browserSites = []string{"mercari_jp", "mercari_us", "bunjang_global", "carousell", "zozoused", "grailed"}

func siteEnabled(cfg config.Sites, key string) bool {
	v, ok := cfg.Enabled[key]
	if !ok {
		return true
	}
	return v
}

// NeedsBrowser reports whether at least one browser-backed marketplace is
// enabled, so callers can skip launching Chromium otherwise.
func NeedsBrowser(cfg config.Sites) bool {
	for _, key := range browserSites {
		if key == "carousell" && len(cfg.CarousellDomains) == 0 {
			continue
		}
		if siteEnabled(cfg, key) {
			return true
		}
	}
	return false
}

// Build assembles the enabled adapters in scan order. Sites missing from the
// enabled map default to on.
func Build(cfg config.Sites, r render.Renderer, logger *slog.Logger) []Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	enabled := func(key string) bool {
		return siteEnabled(cfg, key)
	}

	var adapters []Adapter
	if enabled("mercari_jp") {
		adapters = append(adapters, newCardSite(mercariJPSpec(), r, logger))
	}
	if enabled("mercari_us") {
		adapters = append(adapters, newCardSite(mercariUSSpec(), r, logger))
	}
	if enabled("bunjang_global") {
		adapters = append(adapters, newCardSite(bunjangSpec(), r, logger))
	}
	if enabled("carousell") && len(cfg.CarousellDomains) > 0 {
		adapters = append(adapters, newCarousell(cfg.CarousellDomains, r, logger))
	}
	if enabled("zozoused") {
		adapters = append(adapters, newCardSite(zozousedSpec(), r, logger))
	}
	if enabled("grailed") {
		adapters = append(adapters, newCardSite(grailedSpec(), r, logger))
	}
	if cfg.Reddit != nil && len(cfg.Reddit.Subreddits) > 0 && enabled("reddit") {
		adapters = append(adapters, NewReddit(*cfg.Reddit, logger))
	}
	for _, feed := range cfg.Feeds {
		adapters = append(adapters, NewFeed(feed, logger))
	}
	return adapters
}
