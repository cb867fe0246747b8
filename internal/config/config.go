// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package config loads authd configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional YAML
// file, AUTHD_ environment variables, then explicitly set command line flags.
// Nested keys use "." in YAML paths and "__" in environment names, so
// AUTHD_SESSION__IDLE_TIMEOUT=30m sets session.idle_timeout.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dr3hardware/authd/internal/auth"
	"github.com/dr3hardware/authd/internal/auth/postgres"
)

// EnvPrefix marks environment variables read by Load.
const EnvPrefix = "AUTHD_"

// Session backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the complete authd configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Hasher   HasherConfig   `koanf:"hasher" yaml:"hasher"`
	Lockout  LockoutConfig  `koanf:"lockout" yaml:"lockout"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
}

// DatabaseConfig locates the postgres database.
type DatabaseConfig struct {
	URL             string        `koanf:"url" yaml:"url" validate:"omitempty,url"`
	QueryTimeout    time.Duration `koanf:"query_timeout" yaml:"query_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" yaml:"connect_attempts" validate:"min=1"`
}

// HasherConfig holds the argon2id cost for new hashes.
type HasherConfig struct {
	Time      uint32 `koanf:"time" yaml:"time" validate:"min=1"`
	MemoryKiB uint32 `koanf:"memory_kib" yaml:"memory_kib" validate:"min=8"`
	Threads   uint8  `koanf:"threads" yaml:"threads" validate:"min=1"`
	SaltLen   uint32 `koanf:"salt_len" yaml:"salt_len" validate:"min=8"`
	KeyLen    uint32 `koanf:"key_len" yaml:"key_len" validate:"min=16"`
}

// LockoutConfig controls brute-force lockout.
type LockoutConfig struct {
	Threshold int           `koanf:"threshold" yaml:"threshold" validate:"min=1"`
	Window    time.Duration `koanf:"window" yaml:"window" validate:"gt=0"`
	Cooldown  time.Duration `koanf:"cooldown" yaml:"cooldown" validate:"gt=0"`
}

// SessionConfig controls session lifetime and storage.
type SessionConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
	Backend       string        `koanf:"backend" yaml:"backend" validate:"oneof=postgres redis"`
	RedisAddr     string        `koanf:"redis_addr" yaml:"redis_addr" validate:"omitempty,hostname_port"`
	SweepInterval time.Duration `koanf:"sweep_interval" yaml:"sweep_interval" validate:"gte=0"`
}

// LogConfig selects log output.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" validate:"oneof=json text"`
	Level  string `koanf:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// MetricsConfig controls the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	params := auth.DefaultHashParams()
	policy := auth.DefaultLockoutPolicy()
	return Config{
		Database: DatabaseConfig{
			QueryTimeout:    postgres.DefaultQueryTimeout,
			ConnectAttempts: 5,
		},
		Hasher: HasherConfig{
			Time:      params.Time,
			MemoryKiB: params.MemoryKiB,
			Threads:   params.Threads,
			SaltLen:   params.SaltLen,
			KeyLen:    params.KeyLen,
		},
		Lockout: LockoutConfig{
			Threshold: policy.Threshold,
			Window:    policy.Window,
			Cooldown:  policy.Cooldown,
		},
		Session: SessionConfig{
			IdleTimeout:   auth.DefaultIdleTimeout,
			Backend:       BackendPostgres,
			SweepInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
	}
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"database-url":    "database.url",
	"session-backend": "session.backend",
	"redis-addr":      "session.redis_addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"metrics-addr":    "metrics.addr",
}

// BindFlags registers the configuration flags on fs. Only flags set on the
// command line override other sources.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("database-url", "", "postgres connection URL")
	fs.String("session-backend", "", "session store: postgres or redis")
	fs.String("redis-addr", "", "redis host:port for the redis session backend")
	fs.String("log-format", "", "log format: json or text")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("metrics-addr", "", "metrics and health listener host:port, empty to disable")
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// empty), the environment and the changed flags in fs (may be nil).
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns AUTHD_SESSION__IDLE_TIMEOUT into session.idle_timeout.
func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+" "+fe.Tag())
			}
			return oops.Code("CONFIG_INVALID").
				With("fields", fields).
				Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if c.Session.Backend == BackendRedis && c.Session.RedisAddr == "" {
		return oops.Code("CONFIG_INVALID").
			With("fields", []string{"Config.Session.RedisAddr required_if"}).
			Errorf("session.redis_addr is required when session.backend is redis")
	}
	if err := c.Hasher.Params().Validate(); err != nil {
		return oops.With("section", "hasher").Wrap(err)
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("fields", []string{"Config.Database.URL required"}).
			Errorf("database.url is required (set AUTHD_DATABASE__URL or --database-url)")
	}
	return nil
}

// YAML renders c in the file format Load reads. A password in the database
// URL is masked.
func (c Config) YAML() ([]byte, error) {
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err == nil {
			c.Database.URL = u.Redacted()
		}
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}

// Params converts the hasher section to argon2id parameters.
func (c HasherConfig) Params() auth.HashParams {
	return auth.HashParams{
		Time:      c.Time,
		MemoryKiB: c.MemoryKiB,
		Threads:   c.Threads,
		SaltLen:   c.SaltLen,
		KeyLen:    c.KeyLen,
	}
}

// Policy converts the lockout section to a LockoutPolicy.
func (c LockoutConfig) Policy() auth.LockoutPolicy {
	return auth.LockoutPolicy{
		Threshold: c.Threshold,
		Window:    c.Window,
		Cooldown:  c.Cooldown,
	}
}
