package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from a YAML file.
type Config struct {
	// ListenAddr is the HTTP API bind address, e.g. ":5000".
	ListenAddr string `yaml:"listen_addr"`

	// Hosts are the cluster host addresses to track, host:port.
	Hosts []string `yaml:"hosts"`

	// SyncIntervalMinutes is the period of the sync-and-debit task.
	SyncIntervalMinutes int `yaml:"sync_interval_minutes"`

	// DumpIntervalMinutes is the period of ledger persistence.
	DumpIntervalMinutes int `yaml:"dump_interval_minutes"`

	// ForceSyncDeadtimeSeconds throttles manually triggered syncs.
	ForceSyncDeadtimeSeconds int `yaml:"force_sync_deadtime_seconds"`

	SSH   SSHConfig   `yaml:"ssh"`
	Quota QuotaConfig `yaml:"quota"`
	Log   LogConfig   `yaml:"log"`
}

// SSHConfig describes the service's own operating identity and the timeouts
// applied to every remote operation.
type SSHConfig struct {
	User                  string `yaml:"user"`
	KeyPath               string `yaml:"key_path"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	ExecTimeoutSeconds    int    `yaml:"exec_timeout_seconds"`
}

// QuotaConfig locates the monthly ledger files and the seed template used to
// initialize a new month.
type QuotaConfig struct {
	DataDir  string `yaml:"data_dir"`
	SeedPath string `yaml:"seed_path"`
}

// LogConfig controls logging level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr:               ":5000",
		SyncIntervalMinutes:      10,
		DumpIntervalMinutes:      30,
		ForceSyncDeadtimeSeconds: 60,
		SSH: SSHConfig{
			User:                  "corral",
			KeyPath:               "~/.ssh/id_rsa",
			ConnectTimeoutSeconds: 10,
			ExecTimeoutSeconds:    30,
		},
		Quota: QuotaConfig{
			DataDir:  "/var/lib/corral/quota",
			SeedPath: "/var/lib/corral/quota_init.txt",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks the config for conditions the daemon cannot start without.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("config: hosts list is empty, nothing to track")
	}
	if c.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("config: sync_interval_minutes must be positive, got %d", c.SyncIntervalMinutes)
	}
	if c.DumpIntervalMinutes <= 0 {
		return fmt.Errorf("config: dump_interval_minutes must be positive, got %d", c.DumpIntervalMinutes)
	}
	if c.ForceSyncDeadtimeSeconds < 0 {
		return fmt.Errorf("config: force_sync_deadtime_seconds must not be negative, got %d", c.ForceSyncDeadtimeSeconds)
	}
	if c.Quota.DataDir == "" {
		return fmt.Errorf("config: quota data_dir is required")
	}
	if c.Quota.SeedPath == "" {
		return fmt.Errorf("config: quota seed_path is required")
	}
	return nil
}

// SyncInterval returns the sync-and-debit period as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// DumpInterval returns the ledger persistence period as a duration.
func (c *Config) DumpInterval() time.Duration {
	return time.Duration(c.DumpIntervalMinutes) * time.Minute
}

// ForceSyncDeadtime returns the manual-sync throttle window as a duration.
func (c *Config) ForceSyncDeadtime() time.Duration {
	return time.Duration(c.ForceSyncDeadtimeSeconds) * time.Second
}

// ConnectTimeout returns the SSH dial/handshake timeout.
func (c *SSHConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ExecTimeout returns the remote command execution timeout.
func (c *SSHConfig) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutSeconds) * time.Second
}
