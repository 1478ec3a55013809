package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the client settings.
type Config struct {
	APIURL       string        `mapstructure:"api_url"`
	WSURL        string        `mapstructure:"ws_url"`
	LogLevel     string        `mapstructure:"log_level"`
	EventBuffer  int           `mapstructure:"event_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads config/config.{CHAT_ENV}.yaml, falling back to defaults
// when no file exists. CHAT_ENV defaults to "dev".
func Load() (*Config, error) {
	env := os.Getenv("CHAT_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads the given YAML config file. A missing file is not an
// error; defaults apply.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("ws_url", "ws://localhost:8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("event_buffer", 64)
	v.SetDefault("write_timeout", "5s")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigParseError); ok {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		// Missing file: defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
