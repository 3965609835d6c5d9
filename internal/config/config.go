// Package config holds kodelensd's layered configuration: built-in
// defaults, an optional YAML file, and KODELENS_-prefixed environment
// variables, in that order of increasing precedence. CLI flags are merged
// on top by the caller (cmd/kodelensd), which has highest precedence.
package config

import (
	"strconv"
	"time"
)

// Config is the fully-resolved server configuration.
type Config struct {
	// Bind is the listen address, e.g. "127.0.0.1". Binding to a
	// non-loopback address without AllowRemote is a configuration error.
	Bind string `yaml:"bind,omitempty"`
	// Port is the HTTP/WebSocket listen port.
	Port int `yaml:"port,omitempty"`
	// AllowRemote permits a non-loopback Bind address.
	AllowRemote bool `yaml:"allow_remote,omitempty"`
	// Root is the log tree root directory (default: ~/.kodelens).
	Root string `yaml:"root,omitempty"`
	// LogLevel is one of: off, warn, info, debug.
	LogLevel string `yaml:"log_level,omitempty"`
	// RequestTimeoutSeconds bounds HTTP request handling.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds,omitempty"`

	Cache      CacheConfig      `yaml:"cache,omitempty"`
	Watcher    WatcherConfig    `yaml:"watcher,omitempty"`
	Hub        HubConfig        `yaml:"hub,omitempty"`
	Classifier ClassifierConfig `yaml:"classifier,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// CacheConfig configures C1 Cache TTLs and sweep interval.
type CacheConfig struct {
	FileContentTTLSeconds int `yaml:"file_content_ttl_seconds,omitempty"`
	ParsedTTLSeconds      int `yaml:"parsed_ttl_seconds,omitempty"`
	ComputationTTLSeconds int `yaml:"computation_ttl_seconds,omitempty"`
	MetadataTTLSeconds    int `yaml:"metadata_ttl_seconds,omitempty"`
	ProcessTTLMillis      int `yaml:"process_ttl_millis,omitempty"`
	SweepIntervalSeconds  int `yaml:"sweep_interval_seconds,omitempty"`
	MaxEntriesPerCache    int `yaml:"max_entries_per_cache,omitempty"`
}

// WatcherConfig configures C6 FileWatcher debounce behaviour.
type WatcherConfig struct {
	DebounceMillis int `yaml:"debounce_millis,omitempty"`
}

// HubConfig configures C7 NotificationHub.
type HubConfig struct {
	OutboxCapacity       int `yaml:"outbox_capacity,omitempty"`
	PingIntervalSeconds  int `yaml:"ping_interval_seconds,omitempty"`
	PongTimeoutSeconds   int `yaml:"pong_timeout_seconds,omitempty"`
	RebuildThrottleMillis int `yaml:"rebuild_throttle_millis,omitempty"`
}

// ClassifierConfig configures C4 StateClassifier thresholds. Resolves the
// §9 open question by making the thresholds explicit and configurable
// rather than hardcoded.
type ClassifierConfig struct {
	ErrorWindowSeconds    int `yaml:"error_window_seconds,omitempty"`
	ActiveWindowSeconds   int `yaml:"active_window_seconds,omitempty"`
	AwaitingWindowSeconds int `yaml:"awaiting_window_seconds,omitempty"`
	IdleWindowSeconds     int `yaml:"idle_window_seconds,omitempty"`
}

// LoggingConfig mirrors internal/logger.LoggingConfig's shape but is
// declared here (not imported) to avoid a config->logger->config cycle,
// matching the teacher's own duplication-to-avoid-cycles comment.
type LoggingConfig struct {
	FileEnabled *bool `yaml:"file_enabled,omitempty"`
	MaxSizeMB   int   `yaml:"max_size_mb,omitempty"`
	MaxAgeDays  int   `yaml:"max_age_days,omitempty"`
	MaxBackups  int   `yaml:"max_backups,omitempty"`
}

// Default returns a Config with sensible defaults, matching §4.2/§4.3/§4.6
// and the spec's default listen port of 3333.
func Default() *Config {
	return &Config{
		Bind:                  "127.0.0.1",
		Port:                  3333,
		AllowRemote:           false,
		Root:                  "",
		LogLevel:              "info",
		RequestTimeoutSeconds: 30,
		Cache: CacheConfig{
			FileContentTTLSeconds: 30,
			ParsedTTLSeconds:      15,
			ComputationTTLSeconds: 10,
			MetadataTTLSeconds:    5,
			ProcessTTLMillis:      500,
			SweepIntervalSeconds:  15,
			MaxEntriesPerCache:    10000,
		},
		Watcher: WatcherConfig{
			DebounceMillis: 250,
		},
		Hub: HubConfig{
			OutboxCapacity:        256,
			PingIntervalSeconds:   30,
			PongTimeoutSeconds:    60,
			RebuildThrottleMillis: 500,
		},
		Classifier: ClassifierConfig{
			ErrorWindowSeconds:    30,
			ActiveWindowSeconds:   5,
			AwaitingWindowSeconds: 60,
			IdleWindowSeconds:     600,
		},
	}
}

// RequestTimeout returns RequestTimeoutSeconds as a time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ListenAddress returns the host:port string to bind.
func (c *Config) ListenAddress() string {
	return c.Bind + ":" + strconv.Itoa(c.Port)
}
