package sites

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/render"
)

func grailedSpec() cardSpec {
	return cardSpec{
		name: "Grailed",
		searchURL: func(q string) string {
			return "https://www.grailed.com/shop?query=" + url.QueryEscape(q)
		},
		linkSelector:     `a[href*="/listing/"]`,
		baseURL:          "https://www.grailed.com",
		titlePlaceholder: "Grailed listing",
		titleFromAttr:    true,
		settle:           1600 * time.Millisecond,
	}
}

func mercariUSSpec() cardSpec {
	return cardSpec{
		name: "Mercari US",
		searchURL: func(q string) string {
			return "https://www.mercari.com/search/?keyword=" + url.QueryEscape(q)
		},
		linkSelector:     `a[href*="/us/item/"], a[href*="/item/"]`,
		baseURL:          "https://www.mercari.com",
		titlePlaceholder: "Mercari item",
		titleFromAttr:    true,
		settle:           1800 * time.Millisecond,
	}
}

func mercariJPSpec() cardSpec {
	return cardSpec{
		name: "Mercari JP",
		searchURL: func(q string) string {
			return "https://jp.mercari.com/search?keyword=" + url.QueryEscape(q)
		},
		linkSelector:     `a[href*="/item/"]`,
		baseURL:          "https://jp.mercari.com",
		titlePlaceholder: "Mercari JP item",
		settle:           1800 * time.Millisecond,
		hrefSubstrings:   []string{"/item/"},
	}
}

func bunjangSpec() cardSpec {
	return cardSpec{
		name: "Bunjang",
		searchURL: func(q string) string {
			return "https://globalbunjang.com/search?q=" + url.QueryEscape(q)
		},
		linkSelector:     `a[href*="/product/"], a[href*="/products/"]`,
		baseURL:          "https://globalbunjang.com",
		titlePlaceholder: "Bunjang item",
		settle:           1800 * time.Millisecond,
	}
}

// zozousedSpec matches bare `a[href]` because ZOZO's grid markup shifts
// between deployments; the href fragments do the narrowing, and cards
// without a photo are useless for image matching.
func zozousedSpec() cardSpec {
	return cardSpec{
		name: "ZOZOUSED/ZOZO",
		searchURL: func(q string) string {
			return "https://zozo.jp/search/?p_keyv=" + pathKeyword(q) + "&p_gtype=2"
		},
		linkSelector:     "a[href]",
		baseURL:          "https://zozo.jp",
		titlePlaceholder: "ZOZO item",
		titleFromAttr:    true,
		settle:           2200 * time.Millisecond,
		hrefSubstrings:   []string{"/_goods/", "/goods/", "/shop/"},
		skipImageless:    true,
	}
}

func carousellSpec(domain string) cardSpec {
	return cardSpec{
		name: "Carousell (" + domain + ")",
		searchURL: func(q string) string {
			return "https://" + domain + "/" + pathKeyword(q) + "/q/"
		},
		linkSelector:     `a[href*="/p/"]`,
		baseURL:          "https://" + domain,
		titlePlaceholder: "Carousell item",
		titleFromAttr:    true,
		settle:           2200 * time.Millisecond,
	}
}

// pathKeyword formats a keyword for sites that embed it in the URL path.
func pathKeyword(q string) string {
	return strings.ReplaceAll(strings.TrimSpace(q), " ", "%20")
}

// carousellDomainFloor keeps result counts useful even when many regional
// domains split one limit.
const carousellDomainFloor = 8

// carousell fans one search across the configured regional domains. One
// domain failing does not take down the others.
type carousell struct {
	domains  []string
	renderer render.Renderer
	logger   *slog.Logger
}

func newCarousell(domains []string, r render.Renderer, logger *slog.Logger) *carousell {
	return &carousell{domains: domains, renderer: r, logger: logger}
}

func (c *carousell) Name() string {
	return "Carousell"
}

func (c *carousell) FetchListings(ctx context.Context, keyword string, limit int) ([]listing.Listing, error) {
	if len(c.domains) == 0 {
		return nil, nil
	}
	perDomain := limit / len(c.domains)
	if perDomain < carousellDomainFloor {
		perDomain = carousellDomainFloor
	}

	var out []listing.Listing
	for _, domain := range c.domains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		site := newCardSite(carousellSpec(domain), c.renderer, c.logger)
		listings, err := site.FetchListings(ctx, keyword, perDomain)
		if err != nil {
			c.logger.Warn("carousell domain failed", "domain", domain, "keyword", keyword, "error", err)
			continue
		}
		out = append(out, listings...)
	}
	return out, nil
}
