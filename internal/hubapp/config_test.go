package hubapp

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearStarEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"STAR_CONFIG_FILE", "STAR_HUB_HOST", "STAR_HUB_PORT", "STAR_HUB_MAX_CONNECTIONS",
		"STAR_HEARTBEAT_INTERVAL", "STAR_MESSAGE_TIMEOUT",
		"STAR_WS_PING_INTERVAL", "STAR_WS_PING_TIMEOUT", "STAR_WS_CLOSE_TIMEOUT",
		"STAR_LOG_LEVEL", "STAR_LOG_FORMAT", "STAR_LOG_FILE", "STAR_ENABLE_RICH_LOGGING",
		"STAR_METRICS_ENABLED", "STAR_METRICS_EXPORT_INTERVAL", "STAR_METRICS_FILE",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearStarEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HubHost != "localhost" || cfg.HubPort != 8000 {
		t.Errorf("bind defaults: got %s:%d", cfg.HubHost, cfg.HubPort)
	}
	if cfg.MaxConnections != 1000 {
		t.Errorf("MaxConnections = %d, want 1000", cfg.MaxConnections)
	}
	if cfg.HeartbeatInterval != 60*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 60s", cfg.HeartbeatInterval)
	}
	if cfg.MessageTimeout != 30*time.Second {
		t.Errorf("MessageTimeout = %s, want 30s", cfg.MessageTimeout)
	}
	if cfg.ListenAddr() != "localhost:8000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearStarEnv(t)
	t.Setenv("STAR_HUB_HOST", "0.0.0.0")
	t.Setenv("STAR_HUB_PORT", "9100")
	t.Setenv("STAR_HUB_MAX_CONNECTIONS", "25")
	t.Setenv("STAR_HEARTBEAT_INTERVAL", "5")
	t.Setenv("STAR_MESSAGE_TIMEOUT", "0.5")
	t.Setenv("STAR_METRICS_ENABLED", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ListenAddr() != "0.0.0.0:9100" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.MaxConnections != 25 {
		t.Errorf("MaxConnections = %d", cfg.MaxConnections)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %s", cfg.HeartbeatInterval)
	}
	if cfg.MessageTimeout != 500*time.Millisecond {
		t.Errorf("MessageTimeout = %s", cfg.MessageTimeout)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled = false")
	}
}

func TestLoadConfigYAMLOverlayEnvWins(t *testing.T) {
	clearStarEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	yaml := "hub_port: 9200\nmax_connections: 7\nheartbeat_interval: 90s\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	t.Setenv("STAR_CONFIG_FILE", path)
	t.Setenv("STAR_HUB_PORT", "9300") // env beats the file

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.HubPort != 9300 {
		t.Errorf("HubPort = %d, want env override 9300", cfg.HubPort)
	}
	if cfg.MaxConnections != 7 {
		t.Errorf("MaxConnections = %d, want yaml 7", cfg.MaxConnections)
	}
	if cfg.HeartbeatInterval != 90*time.Second {
		t.Errorf("HeartbeatInterval = %s, want yaml 90s", cfg.HeartbeatInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	clearStarEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	if err := os.WriteFile(path, []byte("hub_port: [not a scalar\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("STAR_CONFIG_FILE", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestHubConfigMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 3
	cfg.HeartbeatInterval = 2 * time.Second

	hc := cfg.HubConfig()
	if hc.MaxConnections != 3 {
		t.Errorf("MaxConnections = %d", hc.MaxConnections)
	}
	if hc.HeartbeatInterval != 2*time.Second {
		t.Errorf("HeartbeatInterval = %s", hc.HeartbeatInterval)
	}
}

func TestConfigUpdate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Update(func(c *Config) { c.MaxConnections = 42 })
	if cfg.MaxConnections != 42 {
		t.Errorf("MaxConnections = %d after Update", cfg.MaxConnections)
	}
}
