// Package config loads the CLI and server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

const envPrefix = "TIREX_TRACKER_"

// Config holds the application configuration.
type Config struct {
	Listen         string   `yaml:"listen"`
	DBPath         string   `yaml:"database"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
	PollIntervalMs int      `yaml:"poll_interval_ms"`
	RetentionHours int      `yaml:"retention_hours"`
	Measures       []string `yaml:"measures"` // empty means all

	// Parsed from command line (not YAML)
	ConfigPath string `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:9924",
		DBPath:         "tirex-tracker.db",
		LogLevel:       "info",
		LogFormat:      "console",
		PollIntervalMs: 100,
		RetentionHours: 24 * 30,
		ConfigPath:     "tirex-tracker.yaml",
	}
}

// PollInterval returns the sampling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Retention returns how long run history is kept. Zero keeps it forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Load registers the configuration flags on fs, parses args and builds the
// configuration with priority defaults < YAML file < environment < flags.
// Command-specific flags may be registered on fs before calling Load; the
// positional arguments are left in fs.Args().
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	return load(fs, args, os.LookupEnv)
}

func load(fs *pflag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	flags := *cfg
	fs.StringVarP(&flags.ConfigPath, "config", "c", cfg.ConfigPath, "path to the YAML configuration file")
	fs.StringVar(&flags.Listen, "listen", cfg.Listen, "HTTP listen address (host:port)")
	fs.StringVar(&flags.DBPath, "db", cfg.DBPath, "SQLite run history path")
	fs.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error, critical)")
	fs.StringVar(&flags.LogFormat, "log-format", cfg.LogFormat, "log format (console or json)")
	fs.IntVar(&flags.PollIntervalMs, "poll-interval", cfg.PollIntervalMs, "sampling interval in milliseconds")
	fs.IntVar(&flags.RetentionHours, "retention", cfg.RetentionHours, "hours of run history to keep (0 keeps all)")
	fs.StringSliceVarP(&flags.Measures, "measure", "m", nil, "measure to track (repeatable; default all)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// 1) YAML file
	configPath := flags.ConfigPath
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
		logging.Infof("config", "loaded %s", configPath)
	} else if fs.Changed("config") || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.ConfigPath = configPath

	// 2) Environment variables override YAML
	if err := applyEnv(cfg, lookupEnv); err != nil {
		return nil, err
	}

	// 3) Flags override everything
	if fs.Changed("listen") {
		cfg.Listen = flags.Listen
	}
	if fs.Changed("db") {
		cfg.DBPath = flags.DBPath
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
	if fs.Changed("poll-interval") {
		cfg.PollIntervalMs = flags.PollIntervalMs
	}
	if fs.Changed("retention") {
		cfg.RetentionHours = flags.RetentionHours
	}
	if fs.Changed("measure") {
		cfg.Measures = flags.Measures
	}

	return cfg, cfg.validate()
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, found := lookupEnv(envPrefix + key); found && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, found := lookupEnv(envPrefix + key)
		if !found || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("LISTEN", &cfg.Listen)
	str("DATABASE", &cfg.DBPath)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	if err := num("POLL_INTERVAL_MS", &cfg.PollIntervalMs); err != nil {
		return err
	}
	if err := num("RETENTION_HOURS", &cfg.RetentionHours); err != nil {
		return err
	}
	if v, found := lookupEnv(envPrefix + "MEASURES"); found && v != "" {
		cfg.Measures = nil
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.Measures = append(cfg.Measures, m)
			}
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %d ms", model.ErrInvalidArgument, c.PollIntervalMs)
	}
	if c.RetentionHours < 0 {
		return fmt.Errorf("%w: retention must not be negative", model.ErrInvalidArgument)
	}
	if _, valid := model.ParseLogLevel(c.LogLevel); !valid {
		return fmt.Errorf("%w: unknown log level %q", model.ErrInvalidArgument, c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", model.ErrInvalidArgument, c.LogFormat)
	}
	return nil
}
