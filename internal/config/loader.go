package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// FileName is the name of the optional YAML config file, looked up under
// the log root directory by default.
const FileName = "kodelens.yaml"

// Loader resolves a Config from defaults, an optional YAML file, and
// KODELENS_-prefixed environment variables, in that precedence order.
type Loader struct {
	path string // explicit config file path; empty means "not set, use defaults+env only"
}

// NewLoader creates a Loader for the given config file path. An empty path
// is valid — Load then resolves defaults merged with environment overrides
// only, the same "missing file is not an error" contract the teacher's
// FileSettingsLoader.Load follows.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads the YAML file (if set and present) and environment overrides
// on top of Default(), via viper, mirroring the teacher's
// FileSettingsLoader.Load construction sequence.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("KODELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("bind", d.Bind)
	v.SetDefault("port", d.Port)
	v.SetDefault("allow_remote", d.AllowRemote)
	v.SetDefault("root", d.Root)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("request_timeout_seconds", d.RequestTimeoutSeconds)

	v.SetDefault("cache.file_content_ttl_seconds", d.Cache.FileContentTTLSeconds)
	v.SetDefault("cache.parsed_ttl_seconds", d.Cache.ParsedTTLSeconds)
	v.SetDefault("cache.computation_ttl_seconds", d.Cache.ComputationTTLSeconds)
	v.SetDefault("cache.metadata_ttl_seconds", d.Cache.MetadataTTLSeconds)
	v.SetDefault("cache.process_ttl_millis", d.Cache.ProcessTTLMillis)
	v.SetDefault("cache.sweep_interval_seconds", d.Cache.SweepIntervalSeconds)
	v.SetDefault("cache.max_entries_per_cache", d.Cache.MaxEntriesPerCache)

	v.SetDefault("watcher.debounce_millis", d.Watcher.DebounceMillis)

	v.SetDefault("hub.outbox_capacity", d.Hub.OutboxCapacity)
	v.SetDefault("hub.ping_interval_seconds", d.Hub.PingIntervalSeconds)
	v.SetDefault("hub.pong_timeout_seconds", d.Hub.PongTimeoutSeconds)
	v.SetDefault("hub.rebuild_throttle_millis", d.Hub.RebuildThrottleMillis)

	v.SetDefault("classifier.error_window_seconds", d.Classifier.ErrorWindowSeconds)
	v.SetDefault("classifier.active_window_seconds", d.Classifier.ActiveWindowSeconds)
	v.SetDefault("classifier.awaiting_window_seconds", d.Classifier.AwaitingWindowSeconds)
	v.SetDefault("classifier.idle_window_seconds", d.Classifier.IdleWindowSeconds)

	v.SetDefault("logging.file_enabled", true)
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.max_backups", 3)

	if l.path != "" {
		if _, err := os.Stat(l.path); err == nil {
			v.SetConfigFile(l.path)
			if err := v.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
				}
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", l.path, err)
		}
	}

	// Config's fields carry yaml tags (snake_case keys), so decode by those
	// rather than viper's default mapstructure tag name.
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultRoot returns "~/.kodelens", the default log tree root per §6.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".kodelens"), nil
}
