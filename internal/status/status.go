// Package status serves a small HTTP surface for liveness checks and for
// inspecting the most recent scan pass.
package status

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bakkerme/grailwatch/internal/ledger"
	"github.com/bakkerme/grailwatch/internal/scan"
)

// StatsSource reports the most recently completed scan pass. Satisfied by
// *scan.Scanner.
type StatsSource interface {
	LastStats() (scan.PassStats, bool)
}

// Info is the static watch summary served by /status.
type Info struct {
	Queries    int
	Sites      []string
	Interval   time.Duration
	Threshold  int
	References int
}

type Server struct {
	echo    *echo.Echo
	stats   StatsSource
	ledger  ledger.Ledger
	info    Info
	logger  *slog.Logger
	started time.Time
}

func NewServer(stats StatsSource, led ledger.Ledger, info Info, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	server := &Server{
		echo:    e,
		stats:   stats,
		ledger:  led,
		info:    info,
		logger:  logger,
		started: time.Now().UTC(),
	}

	e.GET("/healthz", server.handleHealth)
	e.GET("/status", server.handleStatus)
	return server
}

// Start blocks serving on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "grailwatch",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	size, err := s.ledger.Size(c.Request().Context())
	if err != nil {
		s.logger.Warn("ledger size lookup failed", "error", err)
		size = -1
	}

	var lastPass interface{}
	if stats, ok := s.stats.LastStats(); ok {
		lastPass = stats
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "running",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"watch": map[string]interface{}{
			"queries":    s.info.Queries,
			"sites":      s.info.Sites,
			"interval":   s.info.Interval.String(),
			"threshold":  s.info.Threshold,
			"references": s.info.References,
		},
		"ledger": map[string]interface{}{
			"size": size,
		},
		"last_pass": lastPass,
	})
}
