// Package config handles configuration loading using viper. Values come
// from an optional config file, NETSCOPE_* environment variables and
// built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Listen      string            `mapstructure:"listen"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Log         LogConfig         `mapstructure:"log"`
	GeoIP       GeoIPConfig       `mapstructure:"geoip"`
	Database    DatabaseConfig    `mapstructure:"database"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// CaptureConfig contains packet capture settings.
type CaptureConfig struct {
	Interface string `mapstructure:"interface"` // empty = first usable device
	SnapLen   int    `mapstructure:"snap_len"`
	BPF       string `mapstructure:"bpf"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `mapstructure:"level"`  // debug / info / warn / error
	Format string        `mapstructure:"format"` // json / text
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures the rotating file output.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// GeoIPConfig points at an optional GeoLite2 City database.
type GeoIPConfig struct {
	Database string `mapstructure:"database"` // empty = enrichment disabled
}

// DatabaseConfig points at an optional Postgres snapshot sink.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // empty = persistence disabled
}

// OpenAIConfig configures the chatbot model path.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"` // empty = rule table only
	Model  string `mapstructure:"model"`
}

// DiagnosticsConfig bounds the host diagnostics tools.
type DiagnosticsConfig struct {
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	DNSTimeout        time.Duration `mapstructure:"dns_timeout"`
	TracerouteTimeout time.Duration `mapstructure:"traceroute_timeout"`
	MaxHops           int           `mapstructure:"max_hops"`
}

// Load reads configuration from the file at path (skipped when empty),
// applies NETSCOPE_* environment overrides and defaults, and validates
// the result. Env vars map keys with underscores, e.g. NETSCOPE_LOG_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("netscope")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":5000")

	v.SetDefault("capture.interface", "")
	v.SetDefault("capture.snap_len", 65535)
	v.SetDefault("capture.bpf", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "logs/netscope.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("geoip.database", "")
	v.SetDefault("database.dsn", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("diagnostics.ping_timeout", "3s")
	v.SetDefault("diagnostics.dns_timeout", "4s")
	v.SetDefault("diagnostics.traceroute_timeout", "30s")
	v.SetDefault("diagnostics.max_hops", 15)
}

// Validate checks field constraints after loading.
func (cfg *Config) Validate() error {
	if cfg.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if cfg.Capture.SnapLen < 64 || cfg.Capture.SnapLen > 262144 {
		return fmt.Errorf("invalid capture.snap_len: %d (must be 64..262144)", cfg.Capture.SnapLen)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	if cfg.Diagnostics.MaxHops < 1 || cfg.Diagnostics.MaxHops > 64 {
		return fmt.Errorf("invalid diagnostics.max_hops: %d (must be 1..64)", cfg.Diagnostics.MaxHops)
	}
	for name, d := range map[string]time.Duration{
		"diagnostics.ping_timeout":       cfg.Diagnostics.PingTimeout,
		"diagnostics.dns_timeout":        cfg.Diagnostics.DNSTimeout,
		"diagnostics.traceroute_timeout": cfg.Diagnostics.TracerouteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
