// Package config loads the runtime configuration: stack identity, backend
// selection, provider endpoint, and logging. Configuration comes from a
// YAML file discovered in the usual places, overridable via CREACT_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the typed configuration tree.
type Config struct {
	Stack    StackConfig    `mapstructure:"stack"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Provider ProviderConfig `mapstructure:"provider"`
	Log      LogConfig      `mapstructure:"log"`
}

// StackConfig names the stack being deployed.
type StackConfig struct {
	Name string `mapstructure:"name"`
	User string `mapstructure:"user"`
}

// BackendConfig selects and parameterizes the state backend.
type BackendConfig struct {
	// Type is file, postgres, or redis.
	Type string `mapstructure:"type"`
	// Dir is the state directory for the file backend.
	Dir string `mapstructure:"dir"`
	// PostgresURL is the pgx connection string for the postgres backend.
	PostgresURL string `mapstructure:"postgres_url"`
	// RedisAddr/RedisPassword/RedisDB parameterize the redis backend.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// ProviderConfig selects the provider.
type ProviderConfig struct {
	// Type is local or remote.
	Type string `mapstructure:"type"`
	// URL is the websocket endpoint of the provider daemon for the remote
	// provider.
	URL string `mapstructure:"url"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stack.name", "default")
	v.SetDefault("backend.type", "file")
	v.SetDefault("backend.dir", defaultStateDir())
	v.SetDefault("backend.redis_addr", "localhost:6379")
	v.SetDefault("provider.type", "local")
	v.SetDefault("log.level", "info")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".creact/state"
	}
	return filepath.Join(home, ".creact", "state")
}

// Load reads configuration from an explicit path, or discovers creact.yaml
// in the working directory and ~/.config/creact. A missing file is fine;
// defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("creact")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CREACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "creact"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend.Type {
	case "file", "postgres", "redis":
	default:
		return fmt.Errorf("unknown backend type %q (want file, postgres, or redis)", c.Backend.Type)
	}
	switch c.Provider.Type {
	case "local", "remote":
	default:
		return fmt.Errorf("unknown provider type %q (want local or remote)", c.Provider.Type)
	}
	if c.Provider.Type == "remote" && c.Provider.URL == "" {
		return fmt.Errorf("provider.url is required for the remote provider")
	}
	if c.Backend.Type == "postgres" && c.Backend.PostgresURL == "" {
		return fmt.Errorf("backend.postgres_url is required for the postgres backend")
	}
	return nil
}
