package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidDriverMode(t *testing.T) {
	cfg := Defaults()
	cfg.Driver.Mode = "puppeteer"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown driver mode")
	}
}

func TestValidate_ValidDriverModes(t *testing.T) {
	for _, mode := range []string{"chrome", "memory"} {
		cfg := Defaults()
		cfg.Driver.Mode = mode
		if err := Validate(cfg); err != nil {
			t.Fatalf("mode %q should be valid: %v", mode, err)
		}
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Realtime.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Realtime.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_RealtimePathMustBeAbsolute(t *testing.T) {
	cfg := Defaults()
	cfg.Realtime.Path = "ws"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for path without leading slash")
	}
}

func TestValidate_ReconnectBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Reconnect.PollIntervalSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollIntervalSeconds=0")
	}

	cfg = Defaults()
	cfg.Reconnect.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxAttempts=0")
	}
}

func TestValidate_HealthInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Health.IntervalSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for intervalSeconds=0")
	}
}

func TestValidate_EmptyDefaultPlan(t *testing.T) {
	cfg := Defaults()
	cfg.Plans.DefaultPlan = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty defaultPlan")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Plans.DefaultPlan = "professional"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Plans.DefaultPlan != "professional" {
		t.Fatalf("expected 'professional', got %q", loaded.Plans.DefaultPlan)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"driver": {
			"mode": "teleport"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for unknown driver mode")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "driver.mode")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "chrome" {
		t.Fatalf("expected 'chrome', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "driver.mode", "memory"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Driver.Mode != "memory" {
		t.Fatalf("expected 'memory', got %q", cfg.Driver.Mode)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "realtime.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Realtime.Enabled {
		t.Fatal("expected realtime.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "reconnect.maxAttempts", "24"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Reconnect.MaxAttempts != 24 {
		t.Fatalf("expected 24, got %d", cfg.Reconnect.MaxAttempts)
	}
}

// --- Sanitize ---

func TestSanitize_MasksWebhookSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Webhook.Secret = "whsec_1234567890abcdefghij"

	sanitized := Sanitize(cfg)

	if sanitized.Webhook.Secret == cfg.Webhook.Secret {
		t.Fatal("webhook secret should be masked")
	}
	// Verify original is untouched
	if cfg.Webhook.Secret != "whsec_1234567890abcdefghij" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Webhook.Secret = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Webhook.Secret != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Webhook.Secret)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	// Check some known paths exist
	for _, expected := range []string{"general.dataDir", "general.logLevel", "realtime.enabled"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_SECRET", "whsec_abc123")
	result := ExpandEnvVars(`{"secret": "${TEST_WEBHOOK_SECRET}"}`)
	expected := `{"secret": "whsec_abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("HOST", "localhost")
	t.Setenv("PORT", "3000")
	result := ExpandEnvVars(`"${HOST}:${PORT}"`)
	expected := `"localhost:3000"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_WAGATE_DATA", "/tmp/test-data")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"dataDir": "${TEST_WAGATE_DATA}",
			"logLevel": "info"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.DataDir != "/tmp/test-data" {
		t.Fatalf("expected dataDir '/tmp/test-data', got %q", cfg.General.DataDir)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Store.DBPath == "" {
		t.Fatal("dbPath should not be empty")
	}
	if cfg.Driver.Mode != "chrome" {
		t.Fatalf("default driver mode should be 'chrome', got %q", cfg.Driver.Mode)
	}
}
