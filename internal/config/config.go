// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	HTTPAddr           string `mapstructure:"HTTP_ADDR"`
	DBURL              string `mapstructure:"DB_URL"`
	MigrationsURL      string `mapstructure:"MIGRATIONS_URL"`
	GithubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"`
	GithubCallbackURL  string `mapstructure:"GITHUB_CALLBACK_URL"`
	FrontendURL        string `mapstructure:"FRONTEND_URL"`
	SyncWorkers        int    `mapstructure:"SYNC_WORKERS"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("MIGRATIONS_URL", "file://migrations")
	viper.SetDefault("GITHUB_CALLBACK_URL", "http://localhost:4200/auth/github/callback")
	viper.SetDefault("FRONTEND_URL", "http://localhost:4200")
	viper.SetDefault("SYNC_WORKERS", 0)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubClientID == "" || cfg.GithubClientSecret == "" {
		return nil, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required configuration fields")
	}

	return &cfg, nil
}
