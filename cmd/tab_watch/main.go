package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/browser"
	"github.com/dgnsrekt/tab_sentinel/internal/cdpwatch"
	"github.com/dgnsrekt/tab_sentinel/internal/config"
	"github.com/dgnsrekt/tab_sentinel/internal/detector"
	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
)

func main() {
	cfg, err := config.LoadWatch()
	if err != nil {
		slog.Error("failed to load watch config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	t := cfg.Tuning
	slog.Info("watch config loaded",
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"poll_interval", cfg.PollInterval,
		"store_path", cfg.StorePath,
		"hub_url", cfg.HubURL,
		"launch_browser", cfg.LaunchBrowser,
	)

	store, err := kvstore.OpenSQLite(cfg.StorePath, kvstore.WithMkdirAll())
	if err != nil {
		slog.Error("failed to open shared store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURLs:  cfg.StartURLs,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	lister := cdpwatch.NewChromeLister(cfg.CDPURL())
	if err := lister.Connect(context.Background()); err != nil {
		slog.Error("failed to connect to Chromium", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = lister.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var openChannel func(context.Context) (broadcast.Channel, error)
	if cfg.HubURL != "" {
		openChannel = func(ctx context.Context) (broadcast.Channel, error) {
			return broadcast.Dial(ctx, cfg.HubURL, cfg.Topic)
		}
	}

	w := cdpwatch.NewWatcher(lister, cdpwatch.Options{
		Template: detector.Config{
			UserAgent:          "tab_watch (chromium)",
			Store:              store,
			RefreshInterval:    t.RefreshInterval,
			RecheckProbability: t.RecheckProbability,
			StaleAfter:         t.StaleAfter,
			ActiveWindow:       t.ActiveWindow,
			FallbackWindow:     t.FallbackWindow,
			BroadcastWindow:    t.BroadcastWindow,
		},
		OpenChannel:  openChannel,
		URLFilter:    cfg.TabURLFilter,
		PollInterval: cfg.PollInterval,
	})
	if err := w.Run(ctx); err != nil {
		slog.Error("initial target sync failed", "error", err)
		os.Exit(1)
	}
	slog.Info("watching page targets", "targets", len(w.Snapshot()), "duplicates", w.Duplicates())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	w.Close()
	slog.Info("tab watch stopped")
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
