package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds settings read from LUAHIVE_* environment variables.
type Env struct {
	LogLevel   string   `env:"LUAHIVE_LOG_LEVEL" envDefault:"warn"`
	LogFormat  string   `env:"LUAHIVE_LOG_FORMAT" envDefault:"text"`
	PluginPath []string `env:"LUAHIVE_PLUGIN_PATH" envSeparator:":"`
	ConfigFile string   `env:"LUAHIVE_CONFIG"`
	CacheDir   string   `env:"LUAHIVE_CACHE_DIR"`
	History    string   `env:"LUAHIVE_HISTORY"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
