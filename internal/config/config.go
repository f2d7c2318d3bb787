// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

// Package config loads service configuration from an optional YAML file,
// command-line flags, and the environment.
//
// Precedence, lowest to highest: flag defaults, config file, flags set
// on the command line. Secrets (database URL, token signing secret) are
// read from the environment only and never from the config file.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Default values for serve flags.
const (
	DefaultMetricsAddr      = "127.0.0.1:9100"
	DefaultLogFormat        = "json"
	DefaultLogLevel         = "info"
	DefaultBaseURL          = "http://localhost:8000"
	DefaultAccessTTL        = 15 * time.Minute
	DefaultRefreshTTL       = 14 * 24 * time.Hour
	DefaultSweepInterval    = time.Hour
	DefaultSessionRetention = 30 * 24 * time.Hour
	DefaultAttemptRetention = 7 * 24 * time.Hour
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

// Environment variable names for secrets.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvTokenSecret = "TOKEN_SECRET"
)

// Config holds the accounts service configuration.
type Config struct {
	MetricsAddr string `koanf:"metrics_addr"`
	LogFormat   string `koanf:"log_format"`
	LogLevel    string `koanf:"log_level"`
	BaseURL     string `koanf:"base_url"`

	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`

	SweepInterval    time.Duration `koanf:"sweep_interval"`
	SessionRetention time.Duration `koanf:"session_retention"`
	AttemptRetention time.Duration `koanf:"attempt_retention"`

	MaxLoginAttempts int           `koanf:"max_login_attempts"`
	LockoutDuration  time.Duration `koanf:"lockout_duration"`

	// Secrets, environment only.
	DatabaseURL string `koanf:"-"`
	TokenSecret string `koanf:"-"`
}

// RegisterFlags declares the serve flags with their defaults on fs.
// The flag names double as koanf keys (dashes map to underscores).
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("base-url", DefaultBaseURL, "base URL used in verification and reset links")
	fs.Duration("access-ttl", DefaultAccessTTL, "access token lifetime")
	fs.Duration("refresh-ttl", DefaultRefreshTTL, "refresh token lifetime")
	fs.Duration("sweep-interval", DefaultSweepInterval, "retention sweep interval")
	fs.Duration("session-retention", DefaultSessionRetention, "how long revoked sessions are retained")
	fs.Duration("attempt-retention", DefaultAttemptRetention, "how long idle login attempt rows are retained")
	fs.Int("max-login-attempts", DefaultMaxLoginAttempts, "failed logins before lockout")
	fs.Duration("lockout-duration", DefaultLockoutDuration, "lockout duration after repeated failures")
}

// Load builds a Config from the optional YAML file at path, the given
// flag set, and the environment. An empty path skips the file layer; a
// named file that does not exist is an error.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}

	// Passing k makes posflag skip flag defaults for keys the file
	// already set, while explicitly-set flags still win.
	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		return normalizeKey(f.Name), posflag.FlagVal(fs, f)
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)
	cfg.TokenSecret = os.Getenv(EnvTokenSecret)

	return cfg, nil
}

// Validate checks that the configuration can run the service.
func (c *Config) Validate() error {
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return oops.Code("CONFIG_INVALID").Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.BaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("base_url is required")
	}
	if c.AccessTTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("access_ttl must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return oops.Code("CONFIG_INVALID").Errorf("refresh_ttl must exceed access_ttl")
	}
	if c.MaxLoginAttempts < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("max_login_attempts must be at least 1")
	}
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", EnvDatabaseURL)
	}
	if len(c.TokenSecret) < 32 {
		return oops.Code("CONFIG_INVALID").Errorf("%s must be at least 32 bytes", EnvTokenSecret)
	}
	return nil
}

func normalizeKey(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
