package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/tab_sentinel/internal/activity"
	"github.com/dgnsrekt/tab_sentinel/internal/api"
	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/config"
	"github.com/dgnsrekt/tab_sentinel/internal/controller"
	"github.com/dgnsrekt/tab_sentinel/internal/detector"
	"github.com/dgnsrekt/tab_sentinel/internal/eventlog"
	"github.com/dgnsrekt/tab_sentinel/internal/export"
	"github.com/dgnsrekt/tab_sentinel/internal/kvstore"
	"github.com/dgnsrekt/tab_sentinel/internal/netutil"
	"github.com/dgnsrekt/tab_sentinel/internal/notify"
	"github.com/dgnsrekt/tab_sentinel/internal/storage"
	"github.com/dgnsrekt/tab_sentinel/internal/types"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.LoadInstance()
	if err != nil {
		slog.Error("failed to load tab instance config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	t := cfg.Tuning
	slog.Info("tab instance config loaded",
		"tab_url", cfg.TabURL,
		"store_path", cfg.StorePath,
		"hub_url", cfg.HubURL,
		"topic", cfg.Topic,
		"notify", cfg.NotifyURL != "",
		"bind_addr", cfg.BindAddr,
		"stale_after", t.StaleAfter,
		"active_window", t.ActiveWindow,
		"refresh_interval", t.RefreshInterval,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.FallbackAddrs(), cfg.AutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	store, err := kvstore.OpenSQLite(cfg.StorePath, kvstore.WithMkdirAll())
	if err != nil {
		slog.Error("failed to open shared store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := broadcast.Dial(ctx, cfg.HubURL, cfg.Topic)
	if err != nil {
		if errors.Is(err, broadcast.ErrUnsupported) {
			slog.Info("broadcast unavailable, using storage polling only", "reason", err)
		} else {
			slog.Warn("broadcast dial failed", "error", err)
		}
		ch = nil
	}

	sink := storage.NewJSONLWriter(cfg.EventLogDir, "events", 1000, 50)
	defer func() { _ = sink.Close() }()
	events := eventlog.New(t.MaxLogEntries, eventlog.Options{Sink: sink})
	notifier := notify.NewNotifier(cfg.NotifyURL, &http.Client{Timeout: 5 * time.Second})

	var det *detector.Detector

	det, err = detector.New(detector.Config{
		TabID:              cfg.TabID,
		URL:                cfg.TabURL,
		UserAgent:          cfg.UserAgent,
		Store:              store,
		Channel:            ch,
		RefreshInterval:    t.RefreshInterval,
		RecheckProbability: t.RecheckProbability,
		StaleAfter:         t.StaleAfter,
		ActiveWindow:       t.ActiveWindow,
		FallbackWindow:     t.FallbackWindow,
		BroadcastWindow:    t.BroadcastWindow,
		EventLog:           events,
		OnChange: func(v types.Verdict) {
			slog.Info("duplicate verdict changed", "duplicate", v.IsDuplicate)
			if !notifier.Enabled() || !v.IsDuplicate {
				return
			}
			tabID, url := det.TabID(), det.URL()
			go func() {
				if err := notifier.Verdict(ctx, tabID, url, v); err != nil {
					slog.Warn("duplicate notification failed", "error", err)
				}
			}()
		},
	})
	if err != nil {
		slog.Error("failed to create detector", "error", err)
		os.Exit(1)
	}

	exports, err := export.NewStore(filepath.Clean(cfg.ExportDir))
	if err != nil {
		slog.Error("failed to open export store", "dir", cfg.ExportDir, "error", err)
		os.Exit(1)
	}

	svc := controller.NewService(controller.Options{
		Detector:  det,
		Tracker:   activity.NewTracker(time.Now, t.ActivityCeiling),
		EventLog:  events,
		Exports:   exports,
		UserAgent: cfg.UserAgent,
	})

	v := det.Start(ctx)
	svc.Start(ctx)
	slog.Info("tab instance started", "tab_id", det.TabID(), "duplicate", v.IsDuplicate, "broadcast", det.BroadcastEnabled())

	srv := &http.Server{Handler: api.NewServer(svc), ReadHeaderTimeout: 10 * time.Second}
	bindAddr := ln.Addr().String()

	go func() {
		slog.Info("tab instance listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("tab instance server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tab instance shutdown failed", "error", err)
	}
	svc.Close()
	det.Close()
	slog.Info("tab instance stopped", "tab_id", det.TabID())
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
