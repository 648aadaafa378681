package config

// HubConfig configures the broadcast hub.
type HubConfig struct {
	Common
	BindAddr     string
	AutoFallback bool
}

// LoadHub reads hub configuration from environment variables.
func LoadHub() (*HubConfig, error) {
	loadDotEnv()
	return &HubConfig{
		Common:       loadCommon("HUB", "logs/broadcast_hub.log"),
		BindAddr:     getEnvOrDefault("HUB_BIND_ADDR", "127.0.0.1:8280"),
		AutoFallback: getEnvBoolOrDefault("HUB_BIND_AUTO_FALLBACK", false),
	}, nil
}
