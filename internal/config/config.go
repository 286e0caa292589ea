// Package config loads the daemon configuration from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are safe;
// durations are written as strings like "2ms".
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Defaults applied for fields left out of the config file.
const (
	DefaultTickPeriod     = "2ms"
	DefaultReceiveTimeout = "2ms"
	DefaultListenAddr     = ":8080"
	DefaultRecordInterval = "100ms"

	DefaultMissWarnThreshold    = 10
	DefaultMissTimeoutThreshold = 20
)

// Endpoint describes one sbRIO controller on the robot.
type Endpoint struct {
	// Address is the controller's UDP address as "ip:port".
	Address string `json:"address"`
	// JointNames labels the joints in wire order; its length fixes the
	// joint count of the endpoint.
	JointNames []string `json:"joint_names"`
}

// Config is the root daemon configuration.
type Config struct {
	Endpoints []Endpoint `json:"endpoints"`

	// Loop timing, duration strings like "2ms".
	TickPeriod     *string `json:"tick_period,omitempty"`
	ReceiveTimeout *string `json:"receive_timeout,omitempty"`

	MissWarnThreshold    *uint `json:"miss_warn_threshold,omitempty"`
	MissTimeoutThreshold *uint `json:"miss_timeout_threshold,omitempty"`

	// HTTP API listen address.
	ListenAddr *string `json:"listen_addr,omitempty"`

	// Sample recording; disabled when RecordDB is empty.
	RecordDB       *string `json:"record_db,omitempty"`
	RecordInterval *string `json:"record_interval,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for problems the daemon cannot recover
// from at runtime.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	for i, ep := range c.Endpoints {
		if _, _, err := ep.HostPort(); err != nil {
			return fmt.Errorf("endpoint %d: %w", i, err)
		}
		if len(ep.JointNames) == 0 {
			return fmt.Errorf("endpoint %d: joint_names must not be empty", i)
		}
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"tick_period", c.TickPeriod},
		{"receive_timeout", c.ReceiveTimeout},
		{"record_interval", c.RecordInterval},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s %q: %w", field.name, *field.value, err)
			}
		}
	}

	warn := c.GetMissWarnThreshold()
	timeout := c.GetMissTimeoutThreshold()
	if warn >= timeout {
		return fmt.Errorf("miss_warn_threshold %d must be below miss_timeout_threshold %d", warn, timeout)
	}
	return nil
}

// HostPort splits the endpoint address into its host and numeric port.
func (e Endpoint) HostPort() (string, int, error) {
	host, portStr, err := net.SplitHostPort(e.Address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", e.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", e.Address)
	}
	return host, port, nil
}

func parseDurationOr(s *string, fallback string) time.Duration {
	d, err := time.ParseDuration(fallback)
	if err != nil {
		panic("bad fallback duration " + fallback)
	}
	if s == nil || *s == "" {
		return d
	}
	parsed, err := time.ParseDuration(*s)
	if err != nil {
		return d
	}
	return parsed
}

// GetTickPeriod returns the control loop period.
func (c *Config) GetTickPeriod() time.Duration {
	return parseDurationOr(c.TickPeriod, DefaultTickPeriod)
}

// GetReceiveTimeout returns the per-tick receive wait bound.
func (c *Config) GetReceiveTimeout() time.Duration {
	return parseDurationOr(c.ReceiveTimeout, DefaultReceiveTimeout)
}

// GetRecordInterval returns the telemetry sampling interval.
func (c *Config) GetRecordInterval() time.Duration {
	return parseDurationOr(c.RecordInterval, DefaultRecordInterval)
}

// GetMissWarnThreshold returns the consecutive-miss count that triggers the
// first warning.
func (c *Config) GetMissWarnThreshold() uint {
	if c.MissWarnThreshold == nil {
		return DefaultMissWarnThreshold
	}
	return *c.MissWarnThreshold
}

// GetMissTimeoutThreshold returns the consecutive-miss count after which the
// link is reported timed out.
func (c *Config) GetMissTimeoutThreshold() uint {
	if c.MissTimeoutThreshold == nil {
		return DefaultMissTimeoutThreshold
	}
	return *c.MissTimeoutThreshold
}

// GetListenAddr returns the HTTP API listen address.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return *c.ListenAddr
}

// GetRecordDB returns the recording database path, or "" when recording is
// disabled.
func (c *Config) GetRecordDB() string {
	if c.RecordDB == nil {
		return ""
	}
	return *c.RecordDB
}
