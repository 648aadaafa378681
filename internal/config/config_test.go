package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write tuning: %v", err)
	}
	return path
}

func TestLoadTuningDefaults(t *testing.T) {
	got, err := LoadTuning(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadTuning() error = %v", err)
	}
	if got != DefaultTuning() {
		t.Fatalf("LoadTuning() = %+v; want defaults", got)
	}
	if got.StaleAfter != 30*time.Second || got.ActiveWindow != 60*time.Second {
		t.Fatalf("windows = %s/%s; want 30s/1m0s", got.StaleAfter, got.ActiveWindow)
	}
}

func TestLoadTuningOverrides(t *testing.T) {
	path := writeTuning(t, "stale_after: 45s\nbroadcast_window: 1500ms\nrecheck_probability: 0.5\n")
	got, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning() error = %v", err)
	}
	if got.StaleAfter != 45*time.Second {
		t.Fatalf("StaleAfter = %s; want 45s", got.StaleAfter)
	}
	if got.BroadcastWindow != 1500*time.Millisecond {
		t.Fatalf("BroadcastWindow = %s; want 1.5s", got.BroadcastWindow)
	}
	if got.RecheckProbability != 0.5 {
		t.Fatalf("RecheckProbability = %v; want 0.5", got.RecheckProbability)
	}
	if got.RefreshInterval != 5*time.Second {
		t.Fatalf("RefreshInterval = %s; want default 5s", got.RefreshInterval)
	}
}

func TestLoadTuningRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"negative window", "fallback_window: -1s\n", "fallback_window"},
		{"refresh too slow", "refresh_interval: 40s\n", "refresh_interval"},
		{"probability", "recheck_probability: 2\n", "recheck_probability"},
		{"zero probability", "recheck_probability: 0\n", "recheck_probability"},
		{"log size", "max_log_entries: 0\n", "max_log_entries"},
		{"bad yaml", "stale_after: [\n", "tuning config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadTuning(writeTuning(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadTuning() error = %v; want mention of %q", err, tt.want)
			}
			if got != DefaultTuning() {
				t.Fatalf("LoadTuning() = %+v; want defaults on error", got)
			}
		})
	}
}

func TestLoadInstanceFromEnv(t *testing.T) {
	t.Setenv("TAB_URL", "https://example.com/a")
	t.Setenv("TAB_HUB_URL", "ws://127.0.0.1:8280/ws")
	t.Setenv("TAB_LOG_LEVEL", "DEBUG")
	t.Setenv("TAB_BIND_AUTO_FALLBACK", "false")
	t.Setenv("TAB_TUNING_FILE", writeTuning(t, "max_log_entries: 10\n"))

	cfg, err := LoadInstance()
	if err != nil {
		t.Fatalf("LoadInstance() error = %v", err)
	}
	if cfg.TabURL != "https://example.com/a" || cfg.HubURL != "ws://127.0.0.1:8280/ws" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q; want debug", cfg.LogLevel)
	}
	if cfg.AutoFallback {
		t.Fatalf("AutoFallback = true; want false")
	}
	if cfg.Tuning.MaxLogEntries != 10 {
		t.Fatalf("MaxLogEntries = %d; want 10", cfg.Tuning.MaxLogEntries)
	}
	if cfg.Topic != "tab_detection" {
		t.Fatalf("Topic = %q; want tab_detection", cfg.Topic)
	}
}

func TestLoadWatch(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("WATCH_POLL_INTERVAL", "750ms")
	t.Setenv("WATCH_TUNING_FILE", "")
	t.Setenv("WATCH_START_URLS", "https://x/a, https://x/a,,https://x/b")

	cfg, err := LoadWatch()
	if err != nil {
		t.Fatalf("LoadWatch() error = %v", err)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9333" {
		t.Fatalf("CDPURL() = %q", cfg.CDPURL())
	}
	if cfg.PollInterval != 750*time.Millisecond {
		t.Fatalf("PollInterval = %s; want 750ms", cfg.PollInterval)
	}
	if len(cfg.StartURLs) != 3 || cfg.StartURLs[1] != "https://x/a" {
		t.Fatalf("StartURLs = %q; want 3 trimmed entries", cfg.StartURLs)
	}
	if cfg.LaunchBrowser {
		t.Fatalf("LaunchBrowser = true; want false by default")
	}

	t.Setenv("CHROMIUM_CDP_PORT", "70000")
	if _, err := LoadWatch(); err == nil {
		t.Fatalf("LoadWatch() error = nil; want port range error")
	}
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "-3s")
	if got := getEnvIntOrDefault("X_INT", 7); got != 7 {
		t.Fatalf("getEnvIntOrDefault() = %d; want 7", got)
	}
	if got := getEnvBoolOrDefault("X_BOOL", true); !got {
		t.Fatalf("getEnvBoolOrDefault() = false; want true")
	}
	if got := getEnvDurationOrDefault("X_DUR", time.Second); got != time.Second {
		t.Fatalf("getEnvDurationOrDefault() = %s; want 1s", got)
	}
}

func TestLoadHub(t *testing.T) {
	t.Setenv("HUB_BIND_ADDR", "0.0.0.0:9000")
	cfg, err := LoadHub()
	if err != nil {
		t.Fatalf("LoadHub() error = %v", err)
	}
	if cfg.BindAddr != "0.0.0.0:9000" || cfg.LogFile != "logs/broadcast_hub.log" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
