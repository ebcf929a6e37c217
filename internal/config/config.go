// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel         string   `mapstructure:"LOG_LEVEL"`
	HTTPAddr         string   `mapstructure:"HTTP_ADDR"`
	DBURL            string   `mapstructure:"DB_URL"`
	GithubToken      string   `mapstructure:"GITHUB_TOKEN"`
	DefaultRepoOwner string   `mapstructure:"DEFAULT_REPO_OWNER"`
	DefaultRepoName  string   `mapstructure:"DEFAULT_REPO_NAME"`
	ReposToSync      []string `mapstructure:"REPOS_TO_SYNC"`
	SyncPerPage      int      `mapstructure:"SYNC_PER_PAGE"`
	OllamaHost       string   `mapstructure:"OLLAMA_HOST"`
	OllamaModel      string   `mapstructure:"OLLAMA_MODEL"`
}

// LoadConfig reads configuration from a .env file and/or environment
// variables. GITHUB_TOKEN is optional: without it the service runs
// unauthenticated against the hosting API (or with per-request tokens in
// multi-tenant deployments).
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("SYNC_PER_PAGE", 30)
	viper.SetDefault("OLLAMA_HOST", "http://localhost:11434")
	viper.SetDefault("OLLAMA_MODEL", "llama3.2")

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
	if cfg.SyncPerPage <= 0 {
		return nil, errors.New("SYNC_PER_PAGE must be a positive integer")
	}
	// The hosting API caps commit listings at 100 per page.
	if cfg.SyncPerPage > 100 {
		cfg.SyncPerPage = 100
	}

	return &cfg, nil
}
