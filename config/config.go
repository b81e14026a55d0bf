// Package config loads the daemon configuration from a YAML file with
// HARBORMASTER_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/harborgrid/harbormaster/interfaces"
)

// Config is the daemon configuration: control plane settings, service option
// defaults, audit sinks, discovery and the servers provisioned at boot.
type Config struct {
	Control   ControlConfig   `yaml:"control" envconfig:"CONTROL"`
	Defaults  OptionsConfig   `yaml:"defaults" envconfig:"DEFAULTS"`
	Audit     AuditConfig     `yaml:"audit" envconfig:"AUDIT"`
	Discovery DiscoveryConfig `yaml:"discovery" envconfig:"DISCOVERY"`
	Servers   []ServerConfig  `yaml:"servers"`
}

// ControlConfig configures the control plane HTTP server.
type ControlConfig struct {
	ListenAddr  string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	EnablePprof bool   `yaml:"enable_pprof" envconfig:"ENABLE_PPROF"`

	// AdminTokenHash is a bcrypt hash guarding /api/v1. Empty disables
	// authentication.
	AdminTokenHash string `yaml:"admin_token_hash" envconfig:"ADMIN_TOKEN_HASH"`

	DrainSeconds            int `yaml:"drain_seconds" envconfig:"DRAIN_SECONDS"`
	GracefulShutdownSeconds int `yaml:"graceful_shutdown_seconds" envconfig:"GRACEFUL_SHUTDOWN_SECONDS"`
	ReadTimeoutSeconds      int `yaml:"read_timeout_seconds" envconfig:"READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds     int `yaml:"write_timeout_seconds" envconfig:"WRITE_TIMEOUT_SECONDS"`
}

// DrainDuration returns the drain wait as a duration.
func (c *ControlConfig) DrainDuration() time.Duration {
	return time.Duration(c.DrainSeconds) * time.Second
}

// GracefulShutdownDuration returns the shutdown grace as a duration.
func (c *ControlConfig) GracefulShutdownDuration() time.Duration {
	return time.Duration(c.GracefulShutdownSeconds) * time.Second
}

// ReadTimeout returns the HTTP read timeout as a duration.
func (c *ControlConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP write timeout as a duration.
func (c *ControlConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// OptionsConfig carries service option overrides. Pointer fields distinguish
// "absent" from zero; absent keys keep the documented defaults. Timeouts are
// in seconds, zero disables the corresponding deadline.
type OptionsConfig struct {
	MaxSessions         *int  `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`
	IdleTimeoutSeconds  *int  `yaml:"idle_timeout_seconds" envconfig:"IDLE_TIMEOUT_SECONDS"`
	ReadTimeoutSeconds  *int  `yaml:"read_timeout_seconds" envconfig:"READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds *int  `yaml:"write_timeout_seconds" envconfig:"WRITE_TIMEOUT_SECONDS"`
	MaxLineBytes        *int  `yaml:"max_line_bytes" envconfig:"MAX_LINE_BYTES"`
	TCPNoDelay          *bool `yaml:"tcp_no_delay" envconfig:"TCP_NO_DELAY"`
	LogSessions         *bool `yaml:"log_sessions" envconfig:"LOG_SESSIONS"`
}

// Apply overlays the set fields onto a copy of base.
func (o *OptionsConfig) Apply(base interfaces.ServiceOptions) interfaces.ServiceOptions {
	opts := base.Clone()
	if o == nil {
		return opts
	}

	if o.MaxSessions != nil {
		opts.MaxSessions = *o.MaxSessions
	}
	if o.IdleTimeoutSeconds != nil {
		opts.IdleTimeout = time.Duration(*o.IdleTimeoutSeconds) * time.Second
	}
	if o.ReadTimeoutSeconds != nil {
		opts.ReadTimeout = time.Duration(*o.ReadTimeoutSeconds) * time.Second
	}
	if o.WriteTimeoutSeconds != nil {
		opts.WriteTimeout = time.Duration(*o.WriteTimeoutSeconds) * time.Second
	}
	if o.MaxLineBytes != nil {
		opts.MaxLineBytes = *o.MaxLineBytes
	}
	if o.TCPNoDelay != nil {
		opts.TCPNoDelay = *o.TCPNoDelay
	}
	if o.LogSessions != nil {
		opts.LogSessions = *o.LogSessions
	}

	return opts
}

// AuditConfig selects the audit sinks.
type AuditConfig struct {
	// Sinks lists audit sink URIs (file://, s3://, stderr://, noop://).
	// Every sink receives every event.
	Sinks []string `yaml:"sinks" envconfig:"SINKS"`
}

// DiscoveryConfig configures the optional DNS announcer.
type DiscoveryConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED"`
	Server         string `yaml:"server" envconfig:"SERVER"`
	Zone           string `yaml:"zone" envconfig:"ZONE"`
	Hostname       string `yaml:"hostname" envconfig:"HOSTNAME"`
	TTLSeconds     int    `yaml:"ttl_seconds" envconfig:"TTL_SECONDS"`
	TSIGKeyName    string `yaml:"tsig_key_name" envconfig:"TSIG_KEY_NAME"`
	TSIGSecret     string `yaml:"tsig_secret" envconfig:"TSIG_SECRET"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
}

// ServerConfig declares one server provisioned at daemon boot.
type ServerConfig struct {
	Service     string         `yaml:"service"`
	Server      string         `yaml:"server"`
	Address     string         `yaml:"address"`
	Port        int            `yaml:"port"`
	Certificate string         `yaml:"certificate"`
	Encoding    string         `yaml:"encoding"`
	Options     *OptionsConfig `yaml:"options"`
}

// Load loads configuration from file and environment variables. A missing
// file is not an error; defaults plus environment overrides apply.
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("HARBORMASTER", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			ListenAddr:              "127.0.0.1:8080",
			MetricsAddr:             "127.0.0.1:8090",
			DrainSeconds:            45,
			GracefulShutdownSeconds: 30,
			ReadTimeoutSeconds:      60,
			WriteTimeoutSeconds:     30,
		},
		Audit: AuditConfig{
			Sinks: []string{"stderr://"},
		},
		Discovery: DiscoveryConfig{
			TTLSeconds:     60,
			TimeoutSeconds: 5,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Control.ListenAddr == "" {
		return fmt.Errorf("control listen_addr is required")
	}

	for i, srv := range c.Servers {
		if srv.Service == "" {
			return fmt.Errorf("servers[%d]: service is required", i)
		}
		if srv.Port < 0 || srv.Port > 65535 {
			return fmt.Errorf("servers[%d]: invalid port %d", i, srv.Port)
		}
	}

	if c.Discovery.Enabled {
		if c.Discovery.Server == "" {
			return fmt.Errorf("discovery server is required when discovery is enabled")
		}
		if c.Discovery.Zone == "" {
			return fmt.Errorf("discovery zone is required when discovery is enabled")
		}
		if c.Discovery.Hostname == "" {
			return fmt.Errorf("discovery hostname is required when discovery is enabled")
		}
	}

	return nil
}
