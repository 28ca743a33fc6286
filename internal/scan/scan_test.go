package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bakkerme/grailwatch/internal/config"
	"github.com/bakkerme/grailwatch/internal/filter"
	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/match"
	"github.com/bakkerme/grailwatch/internal/notify"
	"github.com/bakkerme/grailwatch/internal/sites"
)

func scanTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAdapter struct {
	name     string
	listings []listing.Listing
	err      error
	calls    int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchListings(context.Context, string, int) ([]listing.Listing, error) {
	f.calls++
	return f.listings, f.err
}

type fakeMatcher struct {
	matchByURL map[string]*match.Match
	err        error
	scored     []string
}

func (f *fakeMatcher) BestMatch(_ context.Context, l listing.Listing) (*match.Match, error) {
	f.scored = append(f.scored, l.URL)
	if f.err != nil {
		return nil, f.err
	}
	return f.matchByURL[l.URL], nil
}

type memLedger struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
	marks   []string
	flushes int
}

func newMemLedger() *memLedger {
	return &memLedger{seen: map[string]bool{}}
}

func (m *memLedger) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenErr != nil {
		return false, m.seenErr
	}
	return m.seen[id], nil
}

func (m *memLedger) Mark(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
	m.marks = append(m.marks, id)
	return nil
}

func (m *memLedger) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *memLedger) Size(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen), nil
}

func (m *memLedger) Close() error { return nil }

type recordingNotifier struct {
	mu      sync.Mutex
	name    string
	err     error
	matches []match.Match
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, m match.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.matches = append(r.matches, m)
	return nil
}

func twoListings() []listing.Listing {
	return []listing.Listing{
		{Site: "Testmarket", Title: "plain tee", URL: "https://t.example/item/1", ImageURLs: []string{"https://cdn.example/1.jpg"}},
		{Site: "Testmarket", Title: "grail jacket", URL: "https://t.example/item/2", ImageURLs: []string{"https://cdn.example/2.jpg"}},
	}
}

func newScanner(t *testing.T, adapters []sites.Adapter, matcher Matcher, f *filter.Filter, led *memLedger, notifiers ...notify.Notifier) *Scanner {
	t.Helper()
	s, err := New(
		Config{Queries: []string{"grail"}, MaxItemsPerSite: 25},
		adapters,
		matcher,
		f,
		led,
		notify.NewFanout(scanTestLogger(), notifiers...),
		scanTestLogger(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRunPassAlertsAndMarks(t *testing.T) {
	listings := twoListings()
	adapter := &fakeAdapter{name: "Testmarket", listings: listings}
	matcher := &fakeMatcher{matchByURL: map[string]*match.Match{
		listings[1].URL: {Listing: listings[1], ImageURL: listings[1].ImageURLs[0], Distance: 4},
	}}
	led := newMemLedger()
	channel := &recordingNotifier{name: "discord"}
	s := newScanner(t, []sites.Adapter{adapter}, matcher, nil, led, channel)

	stats, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Listings != 2 || stats.NewListings != 2 || stats.Matches != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(channel.matches) != 1 || channel.matches[0].Listing.URL != listings[1].URL {
		t.Fatalf("unexpected alerts: %+v", channel.matches)
	}
	// Both listings were evaluated, so both are marked.
	if len(led.marks) != 2 {
		t.Fatalf("expected 2 marks, got %v", led.marks)
	}
	if led.flushes != 1 {
		t.Fatalf("expected one flush per pass, got %d", led.flushes)
	}
}

func TestRunPassSkipsSeenListings(t *testing.T) {
	listings := twoListings()
	adapter := &fakeAdapter{name: "Testmarket", listings: listings}
	matcher := &fakeMatcher{}
	led := newMemLedger()
	led.seen[listings[0].ID()] = true
	s := newScanner(t, []sites.Adapter{adapter}, matcher, nil, led)

	stats, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Listings != 2 || stats.NewListings != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(matcher.scored) != 1 || matcher.scored[0] != listings[1].URL {
		t.Fatalf("expected only unseen listing scored, got %v", matcher.scored)
	}
}

func TestRunPassFilterDropsBeforeMatching(t *testing.T) {
	listings := twoListings()
	adapter := &fakeAdapter{name: "Testmarket", listings: listings}
	matcher := &fakeMatcher{}
	led := newMemLedger()
	f, err := filter.New([]config.FilterRule{
		{Name: "no-tees", Rule: `title.value contains "tee"`, Action: "drop"},
	}, scanTestLogger())
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	s := newScanner(t, []sites.Adapter{adapter}, matcher, f, led)

	stats, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Dropped != 1 || stats.Matches != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(matcher.scored) != 1 || matcher.scored[0] != listings[1].URL {
		t.Fatalf("dropped listing must not be scored, got %v", matcher.scored)
	}
	// Dropped listings stay unmarked so a rule change can resurface them.
	if len(led.marks) != 1 || led.marks[0] != listings[1].ID() {
		t.Fatalf("unexpected marks: %v", led.marks)
	}
}

func TestRunPassContainsSiteFailures(t *testing.T) {
	bad := &fakeAdapter{name: "Flaky", err: errors.New("net::ERR_TIMED_OUT")}
	good := &fakeAdapter{name: "Testmarket", listings: twoListings()[:1]}
	matcher := &fakeMatcher{}
	led := newMemLedger()
	s := newScanner(t, []sites.Adapter{bad, good}, matcher, nil, led)

	stats, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("one bad site must not fail the pass: %v", err)
	}
	if stats.Errors != 1 || stats.Listings != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if good.calls != 1 {
		t.Fatalf("healthy site skipped after failure")
	}
}

func TestRunPassCountsNotifyFailures(t *testing.T) {
	listings := twoListings()[:1]
	adapter := &fakeAdapter{name: "Testmarket", listings: listings}
	matcher := &fakeMatcher{matchByURL: map[string]*match.Match{
		listings[0].URL: {Listing: listings[0], Distance: 2},
	}}
	led := newMemLedger()
	channel := &recordingNotifier{name: "discord", err: errors.New("500")}
	s := newScanner(t, []sites.Adapter{adapter}, matcher, nil, led, channel)

	stats, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if stats.Matches != 1 || stats.Errors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// Delivery failure does not keep the listing from being marked.
	if len(led.marks) != 1 {
		t.Fatalf("expected listing marked despite notify failure, got %v", led.marks)
	}
}

func TestRunPassCancelledSkipsFlush(t *testing.T) {
	adapter := &fakeAdapter{name: "Testmarket", listings: twoListings()}
	led := newMemLedger()
	s := newScanner(t, []sites.Adapter{adapter}, &fakeMatcher{}, nil, led)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunPass(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if led.flushes != 0 {
		t.Fatalf("cancelled pass must not flush, got %d flushes", led.flushes)
	}
	if _, ok := s.LastStats(); ok {
		t.Fatal("cancelled pass must not record stats")
	}
}

func TestLastStats(t *testing.T) {
	adapter := &fakeAdapter{name: "Testmarket", listings: twoListings()}
	s := newScanner(t, []sites.Adapter{adapter}, &fakeMatcher{}, nil, newMemLedger())

	if _, ok := s.LastStats(); ok {
		t.Fatal("expected no stats before first pass")
	}
	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	stats, ok := s.LastStats()
	if !ok {
		t.Fatal("expected stats after pass")
	}
	if stats.Finished.Before(stats.Started) {
		t.Fatalf("finished before started: %+v", stats)
	}
}

func TestRunRepeatsOnInterval(t *testing.T) {
	adapter := &fakeAdapter{name: "Testmarket"}
	s := newScanner(t, []sites.Adapter{adapter}, &fakeMatcher{}, nil, newMemLedger())
	s.cfg.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if adapter.calls < 2 {
		t.Fatalf("expected immediate pass plus ticks, got %d calls", adapter.calls)
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	adapter := &fakeAdapter{name: "Testmarket"}
	s := newScanner(t, []sites.Adapter{adapter}, &fakeMatcher{}, nil, newMemLedger())
	s.cfg.Schedule = "not a cron line"

	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid cron schedule") {
		t.Fatalf("expected schedule error, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	led := newMemLedger()
	adapter := &fakeAdapter{name: "Testmarket"}
	fanout := notify.NewFanout(scanTestLogger())

	if _, err := New(Config{}, []sites.Adapter{adapter}, &fakeMatcher{}, nil, led, fanout, scanTestLogger()); err == nil {
		t.Fatal("expected error for missing queries")
	}
	if _, err := New(Config{Queries: []string{"q"}}, nil, &fakeMatcher{}, nil, led, fanout, scanTestLogger()); err == nil {
		t.Fatal("expected error for missing adapters")
	}
	if _, err := New(Config{Queries: []string{"q"}}, []sites.Adapter{adapter}, nil, nil, led, fanout, scanTestLogger()); err == nil {
		t.Fatal("expected error for missing matcher")
	}
	if _, err := New(Config{Queries: []string{"q"}}, []sites.Adapter{adapter}, &fakeMatcher{}, nil, nil, fanout, scanTestLogger()); err == nil {
		t.Fatal("expected error for missing ledger")
	}
}
