package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"ticket_bot/internal/bot"
	"ticket_bot/internal/config"
	"ticket_bot/internal/fetcher"
	"ticket_bot/internal/metrics"
	"ticket_bot/internal/model"
	"ticket_bot/internal/notifier"
	"ticket_bot/internal/observability/otelx"
	"ticket_bot/internal/pipeline"
	"ticket_bot/internal/scheduler"
	"ticket_bot/internal/server"
	"ticket_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bot failed", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownOTel, err := otelx.Init(ctx, log, cfg.OTel)
	if err != nil {
		return err
	}
	if shutdownOTel != nil {
		defer func() {
			if err := shutdownOTel(context.WithoutCancel(ctx)); err != nil {
				log.Warn("otel shutdown", "error", err)
			}
		}()
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		return err
	}
	defer func() { _ = store.Close() }()

	var seen storage.SeenStore = store
	if cfg.SeenBackend == config.BackendGCS {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			log.Error("create storage client", "error", err)
			return err
		}
		defer func() { _ = client.Close() }()
		seen = storage.NewGCSSeenStore(client, cfg.StorageBucket, cfg.SeenObject, log)
		log.Info("using cloud storage seen state", "bucket", cfg.StorageBucket, "object", cfg.SeenObject)
	}

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	var source fetcher.Source
	switch cfg.FeedFormat {
	case config.FormatRSS:
		source = fetcher.NewRSS(httpClient, cfg.APIURL, log)
	default:
		source = fetcher.New(httpClient, cfg.APIURL, log)
	}

	static := make(storage.StaticDirectory, 0, len(cfg.ChatIDs))
	for _, id := range cfg.ChatIDs {
		static = append(static, model.RecipientID(id))
	}
	directory := storage.CombinedDirectory{static, store}

	b, err := bot.New(cfg.TelegramBotToken, store, seen, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		return err
	}

	m := metrics.New()
	n := notifier.New(b, log, notifier.WithWorkers(cfg.SendWorkers))
	p := pipeline.New(source, seen, directory, n, log, pipeline.WithMetrics(m))
	b.SetRunner(p)

	srv := server.New(cfg.HTTPAddr, p, m.Handler(), log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if cfg.Schedule != "" {
		sched, err := scheduler.New(p, cfg.Schedule, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			sched.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})

	log.Info("starting bot", "feed", cfg.APIURL, "format", cfg.FeedFormat, "seen_backend", cfg.SeenBackend)
	return g.Wait()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
