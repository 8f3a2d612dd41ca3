package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.wagate/data",
			LogLevel: "info",
		},
		Store: StoreConfig{
			DBPath: "~/.wagate/wagate.db",
		},
		Driver: DriverConfig{
			Mode:               "chrome",
			ProfileDir:         "~/.wagate/profiles",
			Headless:           true,
			InitTimeoutSeconds: 60,
		},
		Health: HealthConfig{
			IntervalSeconds:     60,
			ProbeTimeoutSeconds: 10,
		},
		Reconnect: ReconnectConfig{
			PollIntervalSeconds:   5,
			MaxAttempts:           12,
			ReleaseTimeoutSeconds: 5,
		},
		Realtime: RealtimeConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Path:    "/ws",
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 10,
		},
		Plans: PlansConfig{
			DefaultPlan: "free",
		},
		Notify: NotifyConfig{
			BufferSize: 32,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
