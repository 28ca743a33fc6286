package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	goreddit "github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/bakkerme/grailwatch/internal/config"
	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/retry"
)

// redditSite searches buy/sell subreddits for the keyword. Only posts that
// resolve to at least one direct image URL become listings; text posts have
// nothing to match against.
type redditSite struct {
	client     *goreddit.Client
	initErr    error
	subreddits []string
	logger     *slog.Logger
}

func NewReddit(cfg config.RedditSite, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "grailwatch/0.1"
	}
	timeout := cfg.HTTPTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	var (
		client *goreddit.Client
		err    error
	)
	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.Username != "" && cfg.Password != "" {
		logger.Info("using authenticated reddit client", "client_id", cfg.ClientID)
		client, err = goreddit.NewClient(goreddit.Credentials{
			ID:       cfg.ClientID,
			Secret:   cfg.ClientSecret,
			Username: cfg.Username,
			Password: cfg.Password,
		}, goreddit.WithHTTPClient(httpClient), goreddit.WithUserAgent(userAgent))
	} else {
		logger.Info("using readonly reddit client")
		client, err = goreddit.NewReadonlyClient(goreddit.WithHTTPClient(httpClient), goreddit.WithUserAgent(userAgent))
	}
	return &redditSite{client: client, initErr: err, subreddits: cfg.Subreddits, logger: logger}
}

func (r *redditSite) Name() string {
	return "Reddit"
}

func (r *redditSite) FetchListings(ctx context.Context, keyword string, limit int) ([]listing.Listing, error) {
	if r.initErr != nil {
		return nil, r.initErr
	}
	if limit <= 0 {
		limit = 25
	}

	subreddits := strings.Join(r.subreddits, "+")
	var posts []*goreddit.Post
	err := retry.Do(ctx, retry.Config{Attempts: 3, BaseDelay: 200 * time.Millisecond}, func() error {
		var (
			resp *goreddit.Response
			err  error
		)
		posts, resp, err = r.client.Subreddit.SearchPosts(ctx, keyword, subreddits, &goreddit.ListPostSearchOptions{
			ListPostOptions: goreddit.ListPostOptions{
				ListOptions: goreddit.ListOptions{Limit: limit},
			},
			Sort: "new",
		})
		if err != nil {
			if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("reddit transient error: %w", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search reddit: %w", err)
	}

	out := make([]listing.Listing, 0, len(posts))
	for _, post := range posts {
		if post == nil {
			continue
		}
		images := redditPostImages(post)
		if len(images) == 0 {
			continue
		}
		out = append(out, listing.Listing{
			Site:      "Reddit",
			Title:     listing.CleanTitle(post.Title),
			URL:       canonicalRedditURL(post.Permalink),
			ImageURLs: images,
		})
		if len(out) >= limit {
			break
		}
	}

	r.logger.Debug("reddit searched", "subreddits", subreddits, "keyword", keyword, "posts", len(posts), "listings", len(out))
	return out, nil
}

// redditPostImages collects direct image URLs from the post link and any
// bare URLs inside the body text.
func redditPostImages(post *goreddit.Post) []string {
	var images []string
	seen := map[string]bool{}

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" || !isRedditImageURL(parsed) {
			return
		}
		normalized := parsed.String()
		if !seen[normalized] {
			seen[normalized] = true
			images = append(images, normalized)
		}
	}

	if !post.IsSelfPost && post.URL != "" {
		add(post.URL)
	}
	for _, token := range strings.FieldsFunc(post.Body, func(r rune) bool {
		switch r {
		case ' ', '\n', '\t', '\r', '(', ')', '[', ']', '{', '}', '<', '>', '"', '\'':
			return true
		default:
			return false
		}
	}) {
		add(token)
	}
	return images
}

func isRedditImageURL(u *url.URL) bool {
	switch strings.ToLower(u.Host) {
	case "i.redd.it", "i.imgur.com":
		return true
	case "preview.redd.it":
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func canonicalRedditURL(permalink string) string {
	if permalink == "" {
		return ""
	}
	if strings.HasPrefix(permalink, "http://") || strings.HasPrefix(permalink, "https://") {
		return permalink
	}
	if strings.HasPrefix(permalink, "/") {
		return "https://www.reddit.com" + permalink
	}
	return "https://www.reddit.com/" + permalink
}
