package config

import (
	"fmt"
	"strings"
	"time"
)

// WatchConfig configures the CDP mirror.
type WatchConfig struct {
	Common

	CDPAddress   string
	CDPPort      int
	TabURLFilter string
	PollInterval time.Duration

	LaunchBrowser bool
	ProfileDir    string
	Headless      bool
	StartURLs     []string

	StorePath string
	HubURL    string
	Topic     string

	TuningPath string
	Tuning     Tuning
}

// LoadWatch reads CDP mirror configuration from environment variables.
func LoadWatch() (*WatchConfig, error) {
	loadDotEnv()

	cfg := &WatchConfig{
		Common:        loadCommon("WATCH", "logs/tab_watch.log"),
		CDPAddress:    getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:       getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:  getEnvOrDefault("WATCH_TAB_URL_FILTER", ""),
		PollInterval:  getEnvDurationOrDefault("WATCH_POLL_INTERVAL", 2*time.Second),
		LaunchBrowser: getEnvBoolOrDefault("WATCH_LAUNCH_BROWSER", false),
		ProfileDir:    getEnvOrDefault("WATCH_PROFILE_DIR", "./data/chromium_profile"),
		Headless:      getEnvBoolOrDefault("WATCH_HEADLESS", false),
		StartURLs:     splitList(getEnvOrDefault("WATCH_START_URLS", "")),
		StorePath:     getEnvOrDefault("WATCH_STORE_PATH", "./data/tab_sentinel.db"),
		HubURL:        getEnvOrDefault("WATCH_HUB_URL", ""),
		Topic:         getEnvOrDefault("WATCH_TOPIC", "tab_detection"),
		TuningPath:    getEnvOrDefault("WATCH_TUNING_FILE", "./config/tuning.yaml"),
	}
	if cfg.CDPPort < 1 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("watch config: CHROMIUM_CDP_PORT %d out of range", cfg.CDPPort)
	}
	t, err := LoadTuning(cfg.TuningPath)
	if err != nil {
		return nil, err
	}
	cfg.Tuning = t
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *WatchConfig) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
