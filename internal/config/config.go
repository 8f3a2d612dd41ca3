package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the gateway.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Store     StoreConfig     `json:"store"`
	Driver    DriverConfig    `json:"driver"`
	Health    HealthConfig    `json:"health"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Realtime  RealtimeConfig  `json:"realtime"`
	Webhook   WebhookConfig   `json:"webhook"`
	Plans     PlansConfig     `json:"plans"`
	Notify    NotifyConfig    `json:"notify"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// DriverConfig configures the messaging driver backing each session.
type DriverConfig struct {
	Mode               string `json:"mode"` // "chrome" | "memory"
	ProfileDir         string `json:"profileDir,omitempty"`
	Headless           bool   `json:"headless"`
	InitTimeoutSeconds int    `json:"initTimeoutSeconds"`
}

// HealthConfig configures the periodic liveness probe on connected sessions.
type HealthConfig struct {
	IntervalSeconds     int `json:"intervalSeconds"`
	ProbeTimeoutSeconds int `json:"probeTimeoutSeconds"`
}

// ReconnectConfig bounds the reconnect poll loop.
type ReconnectConfig struct {
	PollIntervalSeconds   int `json:"pollIntervalSeconds"`
	MaxAttempts           int `json:"maxAttempts"`
	ReleaseTimeoutSeconds int `json:"releaseTimeoutSeconds"`
}

// RealtimeConfig configures the WebSocket event stream.
type RealtimeConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// WebhookConfig configures outbound webhook delivery.
type WebhookConfig struct {
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Secret         string `json:"secret,omitempty"` // enables HMAC signing when set
}

// PlansConfig points at the subscription plan catalog.
type PlansConfig struct {
	CatalogPath string `json:"catalogPath,omitempty"`
	DefaultPlan string `json:"defaultPlan"`
}

// NotifyConfig tunes the per-tenant event fan-out.
type NotifyConfig struct {
	BufferSize int `json:"bufferSize"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.wagate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wagate"
	}
	return filepath.Join(home, ".wagate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Driver.ProfileDir = ExpandPath(cfg.Driver.ProfileDir)
	cfg.Plans.CatalogPath = ExpandPath(cfg.Plans.CatalogPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Driver.Mode {
	case "chrome", "memory":
		// valid
	default:
		errs = append(errs, "driver.mode must be one of: chrome, memory")
	}
	if cfg.Driver.InitTimeoutSeconds < 1 {
		errs = append(errs, "driver.initTimeoutSeconds must be >= 1")
	}

	if cfg.Health.IntervalSeconds < 1 {
		errs = append(errs, "health.intervalSeconds must be >= 1")
	}
	if cfg.Health.ProbeTimeoutSeconds < 1 {
		errs = append(errs, "health.probeTimeoutSeconds must be >= 1")
	}

	if cfg.Reconnect.PollIntervalSeconds < 1 {
		errs = append(errs, "reconnect.pollIntervalSeconds must be >= 1")
	}
	if cfg.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "reconnect.maxAttempts must be >= 1")
	}
	if cfg.Reconnect.ReleaseTimeoutSeconds < 1 {
		errs = append(errs, "reconnect.releaseTimeoutSeconds must be >= 1")
	}

	if cfg.Realtime.Port < 0 || cfg.Realtime.Port > 65535 {
		errs = append(errs, "realtime.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Realtime.Path, "/") {
		errs = append(errs, "realtime.path must start with /")
	}

	if cfg.Webhook.TimeoutSeconds < 1 {
		errs = append(errs, "webhook.timeoutSeconds must be >= 1")
	}

	if cfg.Plans.DefaultPlan == "" {
		errs = append(errs, "plans.defaultPlan must not be empty")
	}

	if cfg.Notify.BufferSize < 1 {
		errs = append(errs, "notify.bufferSize must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
