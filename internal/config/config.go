// Package config loads rustci settings from defaults, an optional YAML file,
// RUSTCI_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"rustci/internal/auth"
	"rustci/internal/logger"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. RUSTCI_ENGINE.
const EnvPrefix = "RUSTCI"

// DefaultConfigName is looked up in the working directory when no config
// file is given.
const DefaultConfigName = "rustci"

// Config holds all configuration values for the application.
type Config struct {
	// Engine backend: docker or local.
	Engine string `mapstructure:"engine"`

	// CacheDir holds snapshots and local cache volumes.
	CacheDir string `mapstructure:"cache_dir"`

	// WorkDir is the scratch root of the local engine.
	WorkDir string `mapstructure:"work_dir"`

	// VolumePrefix namespaces Docker cache volumes.
	VolumePrefix string `mapstructure:"volume_prefix"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// HTTP server port for rustci-server
	HTTPPort int `mapstructure:"http_port"`

	// APIToken enables bearer authentication on the server when set. It may
	// be given as "sha256:<hex>" instead of in clear.
	APIToken string `mapstructure:"api_token"`

	// Requests per second accepted by the server, 0 disables limiting.
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// DatabaseURL enables run history when set.
	DatabaseURL string `mapstructure:"database_url"`

	// OTELEndpoint is the OTLP gRPC collector; tracing is off when empty.
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// SessionURL points at a remote rustci-server the source is uploaded to
	// before a pipeline runs.
	SessionURL   string `mapstructure:"session_url"`
	SessionToken string `mapstructure:"session_token"`

	// SourceRoot anchors relative source paths on the server.
	SourceRoot string `mapstructure:"source_root"`
}

var defaults = map[string]any{
	"engine":           "docker",
	"cache_dir":        "",
	"work_dir":         "",
	"volume_prefix":    "rustci-",
	"log_level":        "info",
	"log_format":       "json",
	"http_port":        6161,
	"api_token":        "",
	"rate_limit":       10.0,
	"rate_limit_burst": 20,
	"database_url":     "",
	"otel_endpoint":    "",
	"session_url":      "",
	"session_token":    "",
	"source_root":      ".",
}

// Load reads the configuration. path may be empty, in which case
// rustci.yaml in the working directory is used if present. flags may be nil;
// flags named after a key (dashes for underscores) override every other source
// when set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("otel_endpoint", EnvPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for key := range defaults {
			if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	switch c.Engine {
	case "docker", "local":
	default:
		return fmt.Errorf("engine must be docker or local, got %q (env: %s_ENGINE)", c.Engine, EnvPrefix)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w (env: %s_LOG_LEVEL)", err, EnvPrefix)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d (env: %s_HTTP_PORT)", c.HTTPPort, EnvPrefix)
	}
	if c.RateLimit < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate_limit and rate_limit_burst must not be negative")
	}
	if c.APIToken != "" {
		if _, err := auth.NewVerifier(c.APIToken); err != nil {
			return fmt.Errorf("%w (env: %s_API_TOKEN)", err, EnvPrefix)
		}
	}
	if c.SessionURL != "" {
		u, err := url.Parse(c.SessionURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid session_url %q (env: %s_SESSION_URL)", c.SessionURL, EnvPrefix)
		}
	}
	return nil
}
