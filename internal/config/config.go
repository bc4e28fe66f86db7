// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/chatgateway/internal/backend"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server         ServerConfig             `koanf:"server"`
	Store          StoreConfig              `koanf:"store"`
	DefaultBackend string                   `koanf:"default_backend"`
	Backends       map[string]BackendConfig `koanf:"backends"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// StoreConfig selects and configures conversation persistence.
// Kind is one of "memory", "redis", "bolt".
type StoreConfig struct {
	Kind  string      `koanf:"kind"`
	Redis RedisConfig `koanf:"redis"`
	Bolt  BoltConfig  `koanf:"bolt"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr string `koanf:"addr"`
	DB   int    `koanf:"db"`
}

// BoltConfig holds the BoltDB file location.
type BoltConfig struct {
	Path string `koanf:"path"`
}

// BackendConfig holds the settings for a single completion backend.
// Profile names one of the built-in backend profiles; label, placeholder,
// sampling, and header fields override that profile where set.
type BackendConfig struct {
	Profile string `koanf:"profile"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`

	// Sampling overrides are pointers so an explicit zero in the config
	// (temperature: 0 for deterministic output) is distinguishable from
	// the key being absent.
	Temperature     *float64 `koanf:"temperature"`
	TopP            *float64 `koanf:"top_p"`
	PresencePenalty *float64 `koanf:"presence_penalty"`

	UserLabel               string            `koanf:"user_label"`
	BotLabel                string            `koanf:"bot_label"`
	SystemLabel             string            `koanf:"system_label"`
	ContinuationPlaceholder string            `koanf:"continuation_placeholder"`
	Headers                 map[string]string `koanf:"headers"`
}

// Resolve materializes the backend profile with this config's overrides
// applied.
func (bc BackendConfig) Resolve() (backend.Profile, error) {
	p, ok := backend.Profiles()[bc.Profile]
	if !ok {
		return backend.Profile{}, fmt.Errorf("unknown backend profile %q", bc.Profile)
	}
	if bc.UserLabel != "" {
		p.UserLabel = bc.UserLabel
	}
	if bc.BotLabel != "" {
		p.BotLabel = bc.BotLabel
	}
	if bc.SystemLabel != "" {
		p.SystemLabel = bc.SystemLabel
	}
	if bc.ContinuationPlaceholder != "" {
		p.ContinuationPlaceholder = bc.ContinuationPlaceholder
	}
	if bc.Temperature != nil {
		p.Sampling.Temperature = *bc.Temperature
	}
	if bc.TopP != nil {
		p.Sampling.TopP = *bc.TopP
	}
	if bc.PresencePenalty != nil {
		p.Sampling.PresencePenalty = *bc.PresencePenalty
	}
	if len(bc.Headers) > 0 {
		merged := make(map[string]string, len(p.Headers)+len(bc.Headers))
		for k, v := range p.Headers {
			merged[k] = v
		}
		for k, v := range bc.Headers {
			merged[k] = v
		}
		p.Headers = merged
	}
	return p, nil
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with CHATGATEWAY_ overrides a config value.
	// A double underscore separates hierarchy levels, so keys that
	// themselves contain underscores stay addressable:
	//   CHATGATEWAY_SERVER__PORT         -> server.port
	//   CHATGATEWAY_SERVER__READ_TIMEOUT -> server.read_timeout
	//   CHATGATEWAY_DEFAULT_BACKEND      -> default_backend
	// Mapping every single "_" to "." would make server.read_timeout
	// unreachable from the environment.
	if err := k.Load(env.Provider("CHATGATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "CHATGATEWAY_")),
			"__", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in backend API keys. koanf does not
	// do this itself.
	for name, bc := range cfg.Backends {
		if strings.HasPrefix(bc.APIKey, "${") && strings.HasSuffix(bc.APIKey, "}") {
			bc.APIKey = os.Getenv(bc.APIKey[2 : len(bc.APIKey)-1])
			cfg.Backends[name] = bc
		}
	}

	if cfg.Store.Kind == "" {
		cfg.Store.Kind = "memory"
	}
	if cfg.DefaultBackend == "" && len(cfg.Backends) == 1 {
		for name := range cfg.Backends {
			cfg.DefaultBackend = name
		}
	}
	if _, ok := cfg.Backends[cfg.DefaultBackend]; !ok {
		return nil, fmt.Errorf("default_backend %q is not configured", cfg.DefaultBackend)
	}

	return &cfg, nil
}
