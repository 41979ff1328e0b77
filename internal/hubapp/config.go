package hubapp

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"starhub/internal/hub"
)

// Config contains all runtime configuration for the hub binary. Values are
// read once at process start: an optional YAML file first (STAR_CONFIG_FILE),
// then environment variables on top, so env always wins. Runtime updates via
// Update do not propagate into already-opened sockets.
type Config struct {
	HubHost        string `yaml:"hub_host"`
	HubPort        int    `yaml:"hub_port"`
	MaxConnections int    `yaml:"max_connections"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MessageTimeout    time.Duration `yaml:"message_timeout"`

	WSPingInterval time.Duration `yaml:"ws_ping_interval"`
	WSPingTimeout  time.Duration `yaml:"ws_ping_timeout"`
	WSCloseTimeout time.Duration `yaml:"ws_close_timeout"`

	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"`
	LogFile           string `yaml:"log_file"`
	EnableRichLogging bool   `yaml:"enable_rich_logging"`

	MetricsEnabled        bool          `yaml:"metrics_enabled"`
	MetricsExportInterval time.Duration `yaml:"metrics_export_interval"`
	MetricsFile           string        `yaml:"metrics_file"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HubHost:        "localhost",
		HubPort:        8000,
		MaxConnections: 1000,

		HeartbeatInterval: 60 * time.Second,
		MessageTimeout:    30 * time.Second,

		WSPingInterval: 30 * time.Second,
		WSPingTimeout:  10 * time.Second,
		WSCloseTimeout: 10 * time.Second,

		LogLevel:  "info",
		LogFormat: "auto",

		MetricsExportInterval: 60 * time.Second,
	}
}

// LoadConfig builds the effective configuration: defaults, then the optional
// YAML overlay, then STAR_-prefixed environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("STAR_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return Config{}, err
		}
	}

	cfg.HubHost = EnvString("STAR_HUB_HOST", cfg.HubHost)
	cfg.HubPort = EnvInt("STAR_HUB_PORT", cfg.HubPort)
	cfg.MaxConnections = EnvInt("STAR_HUB_MAX_CONNECTIONS", cfg.MaxConnections)

	cfg.HeartbeatInterval = EnvSeconds("STAR_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.MessageTimeout = EnvSeconds("STAR_MESSAGE_TIMEOUT", cfg.MessageTimeout)

	cfg.WSPingInterval = EnvSeconds("STAR_WS_PING_INTERVAL", cfg.WSPingInterval)
	cfg.WSPingTimeout = EnvSeconds("STAR_WS_PING_TIMEOUT", cfg.WSPingTimeout)
	cfg.WSCloseTimeout = EnvSeconds("STAR_WS_CLOSE_TIMEOUT", cfg.WSCloseTimeout)

	cfg.LogLevel = EnvString("STAR_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("STAR_LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = EnvString("STAR_LOG_FILE", cfg.LogFile)
	cfg.EnableRichLogging = EnvBool("STAR_ENABLE_RICH_LOGGING", cfg.EnableRichLogging)

	cfg.MetricsEnabled = EnvBool("STAR_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsExportInterval = EnvSeconds("STAR_METRICS_EXPORT_INTERVAL", cfg.MetricsExportInterval)
	cfg.MetricsFile = EnvString("STAR_METRICS_FILE", cfg.MetricsFile)

	return cfg, nil
}

// yamlConfig mirrors Config with duration fields as raw scalars so the file
// can say either "60" (seconds) or "90s".
type yamlConfig struct {
	HubHost        *string `yaml:"hub_host"`
	HubPort        *int    `yaml:"hub_port"`
	MaxConnections *int    `yaml:"max_connections"`

	HeartbeatInterval *string `yaml:"heartbeat_interval"`
	MessageTimeout    *string `yaml:"message_timeout"`

	WSPingInterval *string `yaml:"ws_ping_interval"`
	WSPingTimeout  *string `yaml:"ws_ping_timeout"`
	WSCloseTimeout *string `yaml:"ws_close_timeout"`

	LogLevel          *string `yaml:"log_level"`
	LogFormat         *string `yaml:"log_format"`
	LogFile           *string `yaml:"log_file"`
	EnableRichLogging *bool   `yaml:"enable_rich_logging"`

	MetricsEnabled        *bool   `yaml:"metrics_enabled"`
	MetricsExportInterval *string `yaml:"metrics_export_interval"`
	MetricsFile           *string `yaml:"metrics_file"`
}

func (c *Config) loadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	setString(&c.HubHost, y.HubHost)
	setInt(&c.HubPort, y.HubPort)
	setInt(&c.MaxConnections, y.MaxConnections)

	setSeconds(&c.HeartbeatInterval, y.HeartbeatInterval)
	setSeconds(&c.MessageTimeout, y.MessageTimeout)
	setSeconds(&c.WSPingInterval, y.WSPingInterval)
	setSeconds(&c.WSPingTimeout, y.WSPingTimeout)
	setSeconds(&c.WSCloseTimeout, y.WSCloseTimeout)

	setString(&c.LogLevel, y.LogLevel)
	setString(&c.LogFormat, y.LogFormat)
	setString(&c.LogFile, y.LogFile)
	setBool(&c.EnableRichLogging, y.EnableRichLogging)

	setBool(&c.MetricsEnabled, y.MetricsEnabled)
	setSeconds(&c.MetricsExportInterval, y.MetricsExportInterval)
	setString(&c.MetricsFile, y.MetricsFile)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil && *v > 0 {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *string) {
	if v != nil {
		*dst = parseSeconds(*v, *dst)
	}
}

// Update applies runtime overrides. Already-opened sockets keep the settings
// they were created with.
func (c *Config) Update(fn func(*Config)) {
	fn(c)
}

// ListenAddr is the hub's bind address.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.HubHost, strconv.Itoa(c.HubPort))
}

// HubConfig maps the hub-relevant fields into the hub package's own config.
func (c Config) HubConfig() hub.Config {
	hc := hub.DefaultConfig()
	hc.MaxConnections = c.MaxConnections
	hc.HeartbeatInterval = c.HeartbeatInterval
	hc.WSPingInterval = c.WSPingInterval
	hc.WSPingTimeout = c.WSPingTimeout
	return hc
}
