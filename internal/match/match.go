// Package match fetches listing photos and scores them against the
// reference fingerprints.
package match

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/bakkerme/grailwatch/internal/fingerprint"
	"github.com/bakkerme/grailwatch/internal/listing"
)

const (
	DefaultThreshold   = 8
	DefaultMaxImages   = 3
	DefaultConcurrency = 3

	defaultFetchTimeout = 15 * time.Second

	// maxImageBytes bounds how much of a photo we pull before hashing.
	maxImageBytes = 32 << 20
)

// Config tunes the matcher. Unset fields take the defaults above, except
// Threshold, where zero is a valid setting that accepts identical hashes
// only.
type Config struct {
	Threshold    int
	MaxImages    int
	Concurrency  int
	FetchTimeout time.Duration
	UserAgent    string
}

// Match is a listing photo that landed within the Hamming threshold of a
// reference image.
type Match struct {
	Listing  listing.Listing
	ImageURL string
	Distance int
}

type Matcher struct {
	store  *fingerprint.Store
	cfg    Config
	client *http.Client
	logger *slog.Logger

	// seams for tests
	hash  func([]byte) (*goimagehash.ImageHash, error)
	fetch func(ctx context.Context, url string) ([]byte, error)
}

func New(store *fingerprint.Store, cfg Config, logger *slog.Logger) (*Matcher, error) {
	if store == nil {
		return nil, fmt.Errorf("fingerprint store is required")
	}
	if cfg.Threshold < 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Matcher{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		logger: logger,
	}
	m.hash = fingerprint.HashBytes
	m.fetch = m.fetchBytes
	return m, nil
}

// BestMatch scores up to MaxImages photos of the listing and returns the one
// with the smallest distance to any reference, provided it is within the
// threshold. Photos that fail to fetch or decode are skipped; (nil, nil)
// means no usable photo matched. The only error returned is cancellation.
func (m *Matcher) BestMatch(ctx context.Context, l listing.Listing) (*Match, error) {
	urls := l.ImageURLs
	if len(urls) > m.cfg.MaxImages {
		urls = urls[:m.cfg.MaxImages]
	}
	if len(urls) == 0 {
		return nil, nil
	}

	var (
		mu       sync.Mutex
		bestDist = -1
		bestURL  string
	)

	scoreOne := func(ctx context.Context, imgURL string) {
		data, err := m.fetch(ctx, imgURL)
		if err != nil {
			m.logger.Debug("image fetch failed", "site", l.Site, "image_url", imgURL, "error", err)
			return
		}
		hash, err := m.hash(data)
		if err != nil {
			m.logger.Debug("image decode failed", "site", l.Site, "image_url", imgURL, "error", err)
			return
		}
		dist, ref, err := m.store.MinDistance(hash)
		if err != nil {
			m.logger.Debug("distance unavailable", "site", l.Site, "image_url", imgURL, "error", err)
			return
		}
		m.logger.Debug("image scored", "site", l.Site, "image_url", imgURL, "distance", dist, "reference", ref)

		mu.Lock()
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			bestURL = imgURL
		}
		mu.Unlock()
	}

	if m.cfg.Concurrency <= 1 || len(urls) == 1 {
		for _, u := range urls {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			scoreOne(ctx, u)
		}
	} else {
		sem := make(chan struct{}, m.cfg.Concurrency)
		var wg sync.WaitGroup

	scoreLoop:
		for _, u := range urls {
			u := u
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break scoreLoop
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				scoreOne(ctx, u)
			}()
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bestDist == -1 || bestDist > m.cfg.Threshold {
		return nil, nil
	}
	return &Match{Listing: l, ImageURL: bestURL, Distance: bestDist}, nil
}

func (m *Matcher) fetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if m.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", m.cfg.UserAgent)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
