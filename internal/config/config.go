// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logs     LogsConfig     `mapstructure:"logs"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"` // Postgres connection string
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogsConfig struct {
	MaxBatchSize int `mapstructure:"max_batch_size"`
	RecentLimit  int `mapstructure:"recent_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// LoadConfig reads configuration from the given file (optional) and from
// OFFLOGD_* environment variables, env taking precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logs.max_batch_size", 500)
	v.SetDefault("logs.recent_limit", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetEnvPrefix("OFFLOGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required (OFFLOGD_DATABASE_URL)")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required (OFFLOGD_AUTH_JWT_SECRET)")
	}
	return &cfg, nil
}
