// Package config loads process configuration from the environment, per
// spec.md §6's "process environment recognized by the core".
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the Namespace Controller's process-level configuration.
// Environment variables use the VIP_SATURN_ZK_ prefix the original
// operator tooling recognizes.
type Config struct {
	Endpoints []string `envconfig:"ENDPOINTS" default:"localhost:2379"`
	Namespace string   `envconfig:"NAMESPACE" required:"true"`
	HostID    string   `envconfig:"HOST_ID"`

	ConnectionTimeoutSeconds int `envconfig:"CLIENT_CONNECTION_TIMEOUT_IN_SECONDS" default:"30"`
	SessionTimeoutSeconds    int `envconfig:"CLIENT_SESSION_TIMEOUT_IN_SECONDS" default:"30"`

	AlarmURL string `envconfig:"ALARM_URL" default:""`
}

// Load parses environment variables prefixed VIP_SATURN_ZK_ into a Config,
// clamping the two store timeouts to the ranges spec.md §6 requires.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("VIP_SATURN_ZK", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.ConnectionTimeoutSeconds = clamp(cfg.ConnectionTimeoutSeconds, 20, 60)
	cfg.SessionTimeoutSeconds = clamp(cfg.SessionTimeoutSeconds, 20, 40)
	if strings.TrimSpace(cfg.Namespace) == "" {
		return nil, fmt.Errorf("loading config: NAMESPACE is required")
	}
	return &cfg, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ConnectionTimeout returns the clamped connection timeout as a duration.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

// SessionTimeout returns the clamped session timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}
