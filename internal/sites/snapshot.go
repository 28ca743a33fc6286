package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bakkerme/grailwatch/internal/listing"
)

// snapshotAdapter records what each fetch returned. When a marketplace
// redesigns its result grid the selectors rot silently; shrinking snapshots
// make the drift visible and diffable.
type snapshotAdapter struct {
	inner  Adapter
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// WithSnapshot decorates an adapter so every successful fetch is written as
// JSON under dir. Snapshot failures are logged, never propagated.
func WithSnapshot(inner Adapter, dir string, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &snapshotAdapter{inner: inner, dir: dir, logger: logger, now: time.Now}
}

type snapshotPayload struct {
	Site       string            `json:"site"`
	Keyword    string            `json:"keyword"`
	CapturedAt time.Time         `json:"captured_at"`
	Listings   []listing.Listing `json:"listings"`
}

func (s *snapshotAdapter) Name() string {
	return s.inner.Name()
}

func (s *snapshotAdapter) FetchListings(ctx context.Context, keyword string, limit int) ([]listing.Listing, error) {
	listings, err := s.inner.FetchListings(ctx, keyword, limit)
	if err != nil {
		return nil, err
	}
	if err := s.save(keyword, listings); err != nil {
		s.logger.Warn("snapshot write failed", "site", s.inner.Name(), "keyword", keyword, "error", err)
	}
	return listings, nil
}

func (s *snapshotAdapter) save(keyword string, listings []listing.Listing) error {
	if s.dir == "" {
		return fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	capturedAt := s.now().UTC()
	payload := snapshotPayload{
		Site:       s.inner.Name(),
		Keyword:    keyword,
		CapturedAt: capturedAt,
		Listings:   listings,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.json", slug(s.inner.Name()), slug(keyword), capturedAt.Format("20060102T150405"))
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
