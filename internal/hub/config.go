package hub

import (
	"time"

	"starhub/internal/ratelimit"
)

// Config carries the settings the hub itself needs at runtime.
// hubapp.Config reads the full STAR_-prefixed key set and maps the
// hub-relevant fields into this struct.
type Config struct {
	MaxConnections    int
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	MaxFrameBytes     int64

	WSPingInterval time.Duration
	WSPingTimeout  time.Duration

	RateLimitEvents int
	RateLimitWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    1000,
		HeartbeatInterval: 60 * time.Second,
		HandshakeTimeout:  30 * time.Second,
		MaxFrameBytes:     64 << 10,
		WSPingInterval:    25 * time.Second,
		WSPingTimeout:     5 * time.Second,
		RateLimitEvents:   ratelimit.DefaultEvents,
		RateLimitWindow:   ratelimit.DefaultWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.RateLimitEvents <= 0 {
		c.RateLimitEvents = d.RateLimitEvents
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	return c
}
