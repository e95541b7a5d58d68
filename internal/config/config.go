// Package config loads the restserver configuration.
//
// Sources are merged in increasing priority: built-in defaults, a YAML
// file, RESTSERVER_ environment variables, then command line flags.
// Environment keys use a double underscore between sections, so
// RESTSERVER_SERVER__IDLE_TIMEOUT=1m sets server.idle_timeout.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/shravanasati/restserver/middleware"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/server"
)

// EnvPrefix is the prefix of environment variables read by [Load].
const EnvPrefix = "RESTSERVER_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full process configuration.
type Config struct {
	Server   server.Config        `koanf:"server"`
	Log      Log                  `koanf:"log"`
	Static   Static               `koanf:"static"`
	Metrics  Metrics              `koanf:"metrics"`
	Accounts []middleware.Account `koanf:"accounts"`
	// TrustedOrigins may send unsafe cross-origin requests to /echo.
	TrustedOrigins []string `koanf:"trusted_origins"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// Color switches the access log to the colored line format.
	Color bool `koanf:"color"`
}

// Static serves files from Dir for targets under Prefix. Empty Dir
// disables it.
type Static struct {
	Dir    string `koanf:"dir"`
	Prefix string `koanf:"prefix"`
}

// Metrics exposes Prometheus metrics at Path when Enabled.
type Metrics struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":                    server.DefaultHost,
		"server.port":                    server.DefaultPort,
		"server.workers":                 server.DefaultWorkers,
		"server.queue_limit":             server.DefaultQueueLimit,
		"server.idle_timeout":            server.DefaultIdleTimeout.String(),
		"server.name":                    server.DefaultName,
		"server.limits.max_header_bytes": request.DefaultMaxHeaderBytes,
		"server.limits.max_body_bytes":   request.DefaultMaxBodyBytes,
		"log.level":                      "info",
		"log.format":                     "text",
		"static.prefix":                  "/",
		"metrics.enabled":                true,
		"metrics.path":                   "/metrics",
	}
}

// mapProvider feeds a flat, dot-delimited map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}

// Load merges every source and validates the result. path may be empty;
// flags holds dot-delimited keys, usually from [FlagValues].
func Load(path string, flags map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(flags) > 0 {
		if err := k.Load(mapProvider(flags), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps RESTSERVER_SERVER__IDLE_TIMEOUT to server.idle_timeout.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// FlagValues returns the flags the user actually set, keyed by the config
// key bindings maps them to. Flags left at their default do not override
// lower priority sources.
func FlagValues(fs *pflag.FlagSet, bindings map[string]string) map[string]any {
	values := map[string]any{}
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := bindings[f.Name]; ok {
			values[key] = f.Value.String()
		}
	})
	return values
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.Workers < 0 {
		return fmt.Errorf("%w: negative worker count %d", ErrInvalidConfig, c.Server.Workers)
	}
	if c.Server.QueueLimit < 0 {
		return fmt.Errorf("%w: negative queue limit %d", ErrInvalidConfig, c.Server.QueueLimit)
	}
	if c.Server.IdleTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics path %q must start with /", ErrInvalidConfig, c.Metrics.Path)
	}
	for _, acc := range c.Accounts {
		if acc.Username == "" || strings.Contains(acc.Username, ":") {
			return fmt.Errorf("%w: bad account name %q", ErrInvalidConfig, acc.Username)
		}
	}
	return nil
}
