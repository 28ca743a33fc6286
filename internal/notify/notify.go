// Package notify delivers match alerts. Channels are independent; one
// failing channel never blocks the others, and delivery failures never stop
// a scan pass.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bakkerme/grailwatch/internal/match"
)

// Notifier delivers one alert over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, m match.Match) error
}

// Message renders the alert body shared by all channels. Markdown-capable
// channels get bold labels; the rest still read fine as plain text.
func Message(m match.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 **Image match** (distance %d)\n", m.Distance)
	fmt.Fprintf(&b, "**Site:** %s\n", m.Listing.Site)
	fmt.Fprintf(&b, "**Title:** %s\n", m.Listing.Title)
	b.WriteString(m.Listing.URL)
	if m.ImageURL != "" {
		b.WriteString("\n")
		b.WriteString(m.ImageURL)
	}
	return b.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// Fanout sends each alert to every configured channel.
type Fanout struct {
	notifiers []Notifier
	logger    *slog.Logger
}

func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{notifiers: notifiers, logger: logger}
}

// Len reports how many channels are configured.
func (f *Fanout) Len() int {
	return len(f.notifiers)
}

// Send attempts every channel and returns the combined failures, if any. A
// failed channel is logged and skipped; the remaining channels still run.
func (f *Fanout) Send(ctx context.Context, m match.Match) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, m); err != nil {
			f.logger.Warn("notification failed", "channel", n.Name(), "site", m.Listing.Site, "url", m.Listing.URL, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		f.logger.Info("alert sent", "channel", n.Name(), "site", m.Listing.Site, "url", m.Listing.URL, "distance", m.Distance)
	}
	return errors.Join(errs...)
}
