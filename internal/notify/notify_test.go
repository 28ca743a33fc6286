package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bakkerme/grailwatch/internal/listing"
	"github.com/bakkerme/grailwatch/internal/match"
)

func notifyTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleMatch() match.Match {
	return match.Match{
		Listing: listing.Listing{
			Site:  "Grailed",
			Title: "Vintage bomber",
			URL:   "https://www.grailed.com/listing/1",
		},
		ImageURL: "https://cdn.example.com/1.jpg",
		Distance: 3,
	}
}

func TestMessageLayout(t *testing.T) {
	msg := Message(sampleMatch())
	lines := strings.Split(msg, "\n")
	want := []string{
		"🚨 **Image match** (distance 3)",
		"**Site:** Grailed",
		"**Title:** Vintage bomber",
		"https://www.grailed.com/listing/1",
		"https://cdn.example.com/1.jpg",
	}
	if len(lines) != len(want) {
		t.Fatalf("message = %q, want %d lines", msg, len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestMessageOmitsEmptyImageURL(t *testing.T) {
	m := sampleMatch()
	m.ImageURL = ""
	if msg := Message(m); strings.HasSuffix(msg, "\n") {
		t.Fatalf("expected no trailing blank line, got %q", msg)
	}
}

func TestTruncateRunes(t *testing.T) {
	s := strings.Repeat("é", 10)
	if got := truncateRunes(s, 4); got != "éééé" {
		t.Fatalf("truncateRunes cut mid-rune: %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("truncateRunes changed short string: %q", got)
	}
}

type stubNotifier struct {
	name  string
	err   error
	calls int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(context.Context, match.Match) error {
	s.calls++
	return s.err
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	failing := &stubNotifier{name: "discord", err: errors.New("429 rate limited")}
	healthy := &stubNotifier{name: "email"}
	fanout := NewFanout(notifyTestLogger(), failing, healthy)

	err := fanout.Send(context.Background(), sampleMatch())
	if err == nil {
		t.Fatal("expected combined error from failed channel")
	}
	if !strings.Contains(err.Error(), "discord") {
		t.Fatalf("expected failing channel named in error, got %v", err)
	}
	if healthy.calls != 1 {
		t.Fatalf("expected healthy channel still attempted, calls=%d", healthy.calls)
	}
}

func TestFanoutAllHealthy(t *testing.T) {
	a := &stubNotifier{name: "discord"}
	b := &stubNotifier{name: "email"}
	fanout := NewFanout(notifyTestLogger(), a, b)

	if err := fanout.Send(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("expected both channels attempted, got %d and %d", a.calls, b.calls)
	}
	if fanout.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", fanout.Len())
	}
}
