package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tab_sentinel/internal/broadcast"
	"github.com/dgnsrekt/tab_sentinel/internal/config"
	"github.com/dgnsrekt/tab_sentinel/internal/netutil"
)

func main() {
	cfg, err := config.LoadHub()
	if err != nil {
		slog.Error("failed to load hub config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	ln, err := netutil.Listen(cfg.BindAddr, nil, cfg.AutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	hub := broadcast.NewHub(slog.Default())

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Handle("/ws", hub)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "topics": hub.Topics()}); err != nil {
			slog.Debug("health response write failed", "error", err)
		}
	})

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	bindAddr := ln.Addr().String()

	go func() {
		slog.Info("broadcast hub listening", "addr", bindAddr, "ws", "ws://"+bindAddr+"/ws?topic="+broadcast.DefaultTopic)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("broadcast hub server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("broadcast hub shutdown failed", "error", err)
	}
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
