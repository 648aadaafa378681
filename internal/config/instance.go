package config

// InstanceConfig configures one tab instance process.
type InstanceConfig struct {
	Common

	TabURL    string
	TabID     string
	UserAgent string

	StorePath string
	HubURL    string
	Topic     string

	BindAddr     string
	AutoFallback bool

	EventLogDir string
	ExportDir   string
	NotifyURL   string

	TuningPath string
	Tuning     Tuning
}

// LoadInstance reads tab instance configuration from environment variables.
func LoadInstance() (*InstanceConfig, error) {
	loadDotEnv()

	cfg := &InstanceConfig{
		Common:       loadCommon("TAB", "logs/tab_instance.log"),
		TabURL:       getEnvOrDefault("TAB_URL", "http://localhost/"),
		TabID:        getEnvOrDefault("TAB_ID", ""),
		UserAgent:    getEnvOrDefault("TAB_USER_AGENT", "tab_sentinel/1.0 (Go)"),
		StorePath:    getEnvOrDefault("TAB_STORE_PATH", "./data/tab_sentinel.db"),
		HubURL:       getEnvOrDefault("TAB_HUB_URL", ""),
		Topic:        getEnvOrDefault("TAB_TOPIC", "tab_detection"),
		BindAddr:     getEnvOrDefault("TAB_BIND_ADDR", "127.0.0.1:8290"),
		AutoFallback: getEnvBoolOrDefault("TAB_BIND_AUTO_FALLBACK", true),
		EventLogDir:  getEnvOrDefault("TAB_EVENT_LOG_DIR", "./data/events"),
		ExportDir:    getEnvOrDefault("TAB_EXPORT_DIR", "./data/exports"),
		NotifyURL:    getEnvOrDefault("TAB_NOTIFY_URL", ""),
		TuningPath:   getEnvOrDefault("TAB_TUNING_FILE", "./config/tuning.yaml"),
	}
	t, err := LoadTuning(cfg.TuningPath)
	if err != nil {
		return nil, err
	}
	cfg.Tuning = t
	return cfg, nil
}

// FallbackAddrs lists the addresses tried when BindAddr is taken.
func (c *InstanceConfig) FallbackAddrs() []string {
	return []string{"127.0.0.1:8291", "127.0.0.1:8292", "127.0.0.1:8293", "127.0.0.1:8294"}
}
