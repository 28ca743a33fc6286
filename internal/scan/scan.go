// Package scan drives watch passes: fetch listings per keyword and site,
// skip what the ledger already saw, filter, match and alert.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/grailwatch/internal/filter"
	"github.com/bakkerme/grailwatch/internal/ledger"
	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/match"
	"github.com/bakkerme/grailwatch/internal/notify"
	"github.com/bakkerme/grailwatch/internal/sites"
)

// Matcher scores a listing's photos against the reference set. Satisfied by
// *match.Matcher.
type Matcher interface {
	BestMatch(ctx context.Context, l listing.Listing) (*match.Match, error)
}

// PassStats summarizes one scan pass. Served by the status endpoint.
type PassStats struct {
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	Listings    int       `json:"listings"`
	NewListings int       `json:"new_listings"`
	Dropped     int       `json:"dropped"`
	Matches     int       `json:"matches"`
	Errors      int       `json:"errors"`
}

type Config struct {
	Queries         []string
	MaxItemsPerSite int
	// Interval paces the loop when no cron schedule is set.
	Interval time.Duration
	// Schedule is an optional cron expression; it takes precedence over
	// Interval.
	Schedule string
}

// Scanner runs watch passes over a fixed set of site adapters.
type Scanner struct {
	cfg      Config
	adapters []sites.Adapter
	matcher  Matcher
	filter   *filter.Filter
	ledger   ledger.Ledger
	notifier *notify.Fanout
	logger   *slog.Logger

	mu   sync.Mutex
	last *PassStats
}

func New(cfg Config, adapters []sites.Adapter, matcher Matcher, f *filter.Filter, led ledger.Ledger, notifier *notify.Fanout, logger *slog.Logger) (*Scanner, error) {
	if len(cfg.Queries) == 0 {
		return nil, fmt.Errorf("at least one query is required")
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("at least one site adapter is required")
	}
	if matcher == nil {
		return nil, fmt.Errorf("matcher is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if notifier == nil {
		notifier = notify.NewFanout(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxItemsPerSite <= 0 {
		cfg.MaxItemsPerSite = 25
	}
	return &Scanner{
		cfg:      cfg,
		adapters: adapters,
		matcher:  matcher,
		filter:   f,
		ledger:   led,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// LastStats returns the stats of the most recently completed pass.
func (s *Scanner) LastStats() (PassStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return PassStats{}, false
	}
	return *s.last, true
}

// RunPass scans every keyword across every site once. Site failures are
// counted and skipped; the pass itself only fails when the context is
// cancelled. The ledger is flushed once, after the pass completes.
func (s *Scanner) RunPass(ctx context.Context) (PassStats, error) {
	tracer := otel.Tracer("grailwatch/scan")
	ctx, span := tracer.Start(ctx, "scan.pass")
	span.SetAttributes(
		attribute.Int("scan.queries", len(s.cfg.Queries)),
		attribute.Int("scan.sites", len(s.adapters)),
	)
	defer span.End()

	stats := PassStats{Started: time.Now().UTC()}
	s.logger.Info("scan pass started", "queries", len(s.cfg.Queries), "sites", len(s.adapters))

	for _, keyword := range s.cfg.Queries {
		for _, adapter := range s.adapters {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return stats, err
			}
			if err := s.scanSite(ctx, adapter, keyword, &stats); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return stats, err
			}
		}
	}

	if err := s.ledger.Flush(ctx); err != nil {
		s.logger.Error("ledger flush failed", "error", err)
		stats.Errors++
	}

	stats.Finished = time.Now().UTC()
	s.mu.Lock()
	s.last = &stats
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("scan.listings", stats.Listings),
		attribute.Int("scan.new_listings", stats.NewListings),
		attribute.Int("scan.matches", stats.Matches),
		attribute.Int("scan.errors", stats.Errors),
	)
	span.SetStatus(codes.Ok, "")

	s.logger.Info("scan pass finished",
		"duration", stats.Finished.Sub(stats.Started),
		"listings", stats.Listings,
		"new_listings", stats.NewListings,
		"dropped", stats.Dropped,
		"matches", stats.Matches,
		"errors", stats.Errors,
	)
	return stats, nil
}

// scanSite fetches and evaluates one keyword on one site. Only context
// cancellation is returned as an error; everything else is contained.
func (s *Scanner) scanSite(ctx context.Context, adapter sites.Adapter, keyword string, stats *PassStats) error {
	tracer := otel.Tracer("grailwatch/scan")
	ctx, span := tracer.Start(ctx, "scan.site")
	span.SetAttributes(
		attribute.String("site", adapter.Name()),
		attribute.String("keyword", keyword),
	)
	defer span.End()

	listings, err := adapter.FetchListings(ctx, keyword, s.cfg.MaxItemsPerSite)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("site fetch failed", "site", adapter.Name(), "keyword", keyword, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		stats.Errors++
		return nil
	}

	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Listings++

		id := l.ID()
		seen, err := s.ledger.Seen(ctx, id)
		if err != nil {
			s.logger.Warn("ledger lookup failed", "site", l.Site, "url", l.URL, "error", err)
			stats.Errors++
			continue
		}
		if seen {
			continue
		}
		stats.NewListings++

		if s.filter != nil {
			if drop, rule := s.filter.ShouldDrop(l); drop {
				// Dropped listings are not marked seen, so a later rule
				// change re-evaluates them.
				s.logger.Debug("listing dropped", "site", l.Site, "url", l.URL, "rule", rule)
				stats.Dropped++
				continue
			}
		}

		m, err := s.matcher.BestMatch(ctx, l)
		if err != nil {
			return err
		}
		if m != nil {
			stats.Matches++
			if err := s.notifier.Send(ctx, *m); err != nil {
				stats.Errors++
			}
		}

		// Every evaluated listing is marked, matched or not, so the next
		// pass skips it.
		if err := s.ledger.Mark(ctx, id); err != nil {
			s.logger.Warn("ledger mark failed", "site", l.Site, "url", l.URL, "error", err)
			stats.Errors++
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Run executes passes until the context is cancelled. With a cron schedule
// configured, passes run on the schedule; otherwise one pass runs
// immediately and then repeats every interval.
func (s *Scanner) Run(ctx context.Context) error {
	if s.cfg.Schedule != "" {
		return s.runCron(ctx)
	}

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 240 * time.Second
	}

	s.runPassLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runPassLogged(ctx)
		}
	}
}

func (s *Scanner) runCron(ctx context.Context) error {
	events := make(chan struct{}, 1)
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		select {
		case events <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	s.logger.Info("scan schedule active", "schedule", s.cfg.Schedule)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
			s.runPassLogged(ctx)
		}
	}
}

func (s *Scanner) runPassLogged(ctx context.Context) {
	if _, err := s.RunPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scan pass failed", "error", err)
	}
}
