package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bakkerme/grailwatch/internal/config"
	"github.com/bakkerme/grailwatch/internal/filter"
	"github.com/bakkerme/grailwatch/internal/fingerprint"
	"github.com/bakkerme/grailwatch/internal/ledger"
	"github.com/bakkerme/grailwatch/internal/match"
	"github.com/bakkerme/grailwatch/internal/notify"
	"github.com/bakkerme/grailwatch/internal/notify/smtp"
	"github.com/bakkerme/grailwatch/internal/observability/otelx"
	"github.com/bakkerme/grailwatch/internal/render"
	"github.com/bakkerme/grailwatch/internal/render/impl"
	"github.com/bakkerme/grailwatch/internal/retry"
	"github.com/bakkerme/grailwatch/internal/scan"
	"github.com/bakkerme/grailwatch/internal/sites"
	"github.com/bakkerme/grailwatch/internal/status"
)

func main() {
	env := config.LoadEnv()
	configPath := flag.String("config", env.ConfigPath, "path to grailwatch document")
	runOnce := flag.Bool("run-once", env.RunOnce, "run a single scan pass and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	doc, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load document: %v", err)
	}
	doc.ApplyEnv(env)
	if err := doc.Validate(); err != nil {
		log.Fatalf("invalid document: %v", err)
	}
	watch := doc.Watch

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := fingerprint.Load(watch.Matching.ReferenceDirs, logger)
	if err != nil {
		log.Fatalf("failed to load reference images: %v", err)
	}

	var renderer render.Renderer
	if sites.NeedsBrowser(watch.Sites) {
		renderer, err = buildRenderer(watch.Sites.Browser, logger)
		if err != nil {
			log.Fatalf("failed to start browser: %v", err)
		}
		defer renderer.Close()
	}

	adapters := sites.Build(watch.Sites, renderer, logger)
	if len(adapters) == 0 {
		log.Fatalf("no sites enabled")
	}
	if watch.Snapshot.Enabled {
		for i := range adapters {
			adapters[i] = sites.WithSnapshot(adapters[i], watch.Snapshot.Dir, logger)
		}
	}

	led, err := buildLedger(watch.Ledger, logger)
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	defer led.Close()

	rules, err := filter.New(watch.Filters, logger)
	if err != nil {
		log.Fatalf("failed to compile filters: %v", err)
	}

	matcher, err := match.New(store, match.Config{
		Threshold:    watch.Matching.ThresholdValue(),
		MaxImages:    watch.Matching.MaxImagesPerListing,
		Concurrency:  watch.Matching.FetchConcurrency,
		FetchTimeout: watch.Matching.FetchTimeout.Std(),
		UserAgent:    watch.Matching.FetchUserAgent,
	}, logger)
	if err != nil {
		log.Fatalf("failed to build matcher: %v", err)
	}

	fanout, err := buildNotifiers(watch.Notify, logger)
	if err != nil {
		log.Fatalf("failed to build notifiers: %v", err)
	}
	if fanout.Len() == 0 {
		logger.Warn("no notify channels configured, matches are only logged")
	}

	scanner, err := scan.New(scan.Config{
		Queries:         watch.Queries,
		MaxItemsPerSite: watch.Matching.MaxItemsPerSite,
		Interval:        watch.Interval.Std(),
		Schedule:        watch.Schedule,
	}, adapters, matcher, rules, led, fanout, logger)
	if err != nil {
		log.Fatalf("failed to build scanner: %v", err)
	}

	if watch.Status.Enabled {
		srv := status.NewServer(scanner, led, statusInfo(watch, adapters, store.Len()), logger)
		go func() {
			if err := srv.Start(watch.Status.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(stopCtx); err != nil {
				logger.Warn("status server shutdown failed", "error", err)
			}
		}()
		logger.Info("status server listening", "addr", watch.Status.Addr)
	}

	if *runOnce {
		if _, err := scanner.RunPass(ctx); err != nil {
			log.Fatalf("scan pass failed: %v", err)
		}
		return
	}

	if err := scanner.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("scanner stopped: %v", err)
	}
	logger.Info("shutting down")
}

func buildRenderer(cfg config.Browser, logger *slog.Logger) (render.Renderer, error) {
	blockAssets := true
	if cfg.BlockAssets != nil {
		blockAssets = *cfg.BlockAssets
	}
	r, err := impl.New(impl.Options{
		Bin:         cfg.Bin,
		UserAgent:   cfg.UserAgent,
		NavTimeout:  cfg.NavTimeout.Std(),
		BlockAssets: blockAssets,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return render.WithRetry(r, retry.Config{Attempts: cfg.RetryAttempts}, logger), nil
}

func buildLedger(cfg config.Ledger, logger *slog.Logger) (ledger.Ledger, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = ledger.DefaultMaxEntries
	}
	switch cfg.Backend {
	case "file":
		return ledger.NewFileLedger(cfg.Path, maxEntries, logger)
	case "sqlite":
		return ledger.NewSQLiteLedger(cfg.Path, cfg.Table, maxEntries)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

func buildNotifiers(cfg config.Notify, logger *slog.Logger) (*notify.Fanout, error) {
	var notifiers []notify.Notifier

	if cfg.Discord != nil && cfg.Discord.WebhookURL != "" {
		discord, err := notify.NewDiscord(cfg.Discord.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("discord notifier: %w", err)
		}
		notifiers = append(notifiers, discord)
	}

	if email := cfg.Email; email != nil {
		sender, err := smtp.NewSender(smtp.Config{
			Host:               email.Host,
			Port:               email.Port,
			Username:           email.Username,
			Password:           email.Password,
			TLSMode:            email.TLSMode,
			InsecureSkipVerify: email.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp sender: %w", err)
		}
		mailer, err := notify.NewEmail(sender, email.From, email.To, email.Subject)
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		notifiers = append(notifiers, mailer)
	}

	return notify.NewFanout(logger, notifiers...), nil
}

func statusInfo(watch config.Watch, adapters []sites.Adapter, references int) status.Info {
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	return status.Info{
		Queries:    len(watch.Queries),
		Sites:      names,
		Interval:   watch.Interval.Std(),
		Threshold:  watch.Matching.ThresholdValue(),
		References: references,
	}
}
