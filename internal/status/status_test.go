package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bakkerme/grailwatch/internal/scan"
)

type fakeStats struct {
	stats scan.PassStats
	ok    bool
}

func (f *fakeStats) LastStats() (scan.PassStats, bool) { return f.stats, f.ok }

type fakeLedger struct {
	size    int
	sizeErr error
}

func (f *fakeLedger) Seen(context.Context, string) (bool, error) { return false, nil }
func (f *fakeLedger) Mark(context.Context, string) error         { return nil }
func (f *fakeLedger) Flush(context.Context) error                { return nil }
func (f *fakeLedger) Size(context.Context) (int, error)          { return f.size, f.sizeErr }
func (f *fakeLedger) Close() error                               { return nil }

func statusTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInfo() Info {
	return Info{
		Queries:    2,
		Sites:      []string{"Grailed", "Mercari US"},
		Interval:   4 * time.Minute,
		Threshold:  8,
		References: 3,
	}
}

func serveJSON(t *testing.T, s *Server, path string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	s := NewServer(&fakeStats{}, &fakeLedger{}, testInfo(), statusTestLogger())

	body := serveJSON(t, s, "/healthz")
	if body["status"] != "healthy" || body["service"] != "grailwatch" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatusBeforeFirstPass(t *testing.T) {
	s := NewServer(&fakeStats{}, &fakeLedger{size: 41}, testInfo(), statusTestLogger())

	body := serveJSON(t, s, "/status")
	if body["status"] != "running" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	if body["last_pass"] != nil {
		t.Fatalf("expected null last_pass before first pass, got %v", body["last_pass"])
	}
	watch, ok := body["watch"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing watch section: %v", body)
	}
	if watch["queries"] != float64(2) || watch["threshold"] != float64(8) {
		t.Fatalf("unexpected watch summary: %v", watch)
	}
	led, ok := body["ledger"].(map[string]interface{})
	if !ok || led["size"] != float64(41) {
		t.Fatalf("unexpected ledger section: %v", body["ledger"])
	}
}

func TestStatusReportsLastPass(t *testing.T) {
	stats := scan.PassStats{
		Started:     time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Finished:    time.Date(2024, 1, 2, 15, 0, 42, 0, time.UTC),
		Listings:    50,
		NewListings: 12,
		Matches:     1,
	}
	s := NewServer(&fakeStats{stats: stats, ok: true}, &fakeLedger{}, testInfo(), statusTestLogger())

	body := serveJSON(t, s, "/status")
	last, ok := body["last_pass"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected last_pass object, got %v", body["last_pass"])
	}
	if last["listings"] != float64(50) || last["matches"] != float64(1) {
		t.Fatalf("unexpected last_pass: %v", last)
	}
}

func TestStatusLedgerSizeFailure(t *testing.T) {
	s := NewServer(&fakeStats{}, &fakeLedger{sizeErr: errors.New("locked")}, testInfo(), statusTestLogger())

	body := serveJSON(t, s, "/status")
	led, ok := body["ledger"].(map[string]interface{})
	if !ok || led["size"] != float64(-1) {
		t.Fatalf("expected size -1 on lookup failure, got %v", body["ledger"])
	}
}
