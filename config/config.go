package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvGithubToken is the environment variable name for the GitHub API token
	EnvGithubToken = "ARGH_GITHUB_TOKEN"

	// EnvPrefix prefixes environment overrides of any other key, e.g. ARGH_WORKERS
	EnvPrefix = "ARGH"

	DefaultDatabasePath    = "github_issues.db"
	DefaultRefreshInterval = "60s"
	DefaultWorkers         = 5
)

// Config represents the application configuration
type Config struct {
	// GitHub API token for authentication (optional, can be set via ARGH_GITHUB_TOKEN env var)
	GitHubToken string `json:"github_token" mapstructure:"github_token"`

	// Path to the SQLite database file holding sync tokens
	DatabasePath string `json:"database_path" mapstructure:"database_path"`

	// List of repositories to mirror in the format "owner/name"
	Repositories []string `json:"repositories" mapstructure:"repositories"`

	// How often open repositories are refreshed, as a Go duration
	RefreshInterval string `json:"refresh_interval" mapstructure:"refresh_interval"`

	// Number of concurrent fetches (1-10)
	Workers int `json:"workers" mapstructure:"workers"`

	// Label name prefixes that are never inherited from parent issues
	ExcludedLabelPrefixes []string `json:"excluded_label_prefixes" mapstructure:"excluded_label_prefixes"`

	// Keep sync tokens in the database across runs
	PersistSyncTokens bool `json:"persist_sync_tokens" mapstructure:"persist_sync_tokens"`

	// Log file path; empty logs to stderr
	LogFile string `json:"log_file,omitempty" mapstructure:"log_file"`

	// Log level: debug, info, warn or error
	LogLevel string `json:"log_level,omitempty" mapstructure:"log_level"`
}

// Interval returns RefreshInterval as a duration
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultRefreshInterval)
	}
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github_token", "")
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("repositories", []string{})
	v.SetDefault("refresh_interval", DefaultRefreshInterval)
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("excluded_label_prefixes", []string{"status."})
	v.SetDefault("persist_sync_tokens", true)
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
}

// LoadConfig loads the configuration from a JSON file. Environment variables
// prefixed with ARGH_ override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("github_token", EnvGithubToken)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, err := time.ParseDuration(config.RefreshInterval); err != nil {
		return nil, fmt.Errorf("invalid refresh_interval %q: %w", config.RefreshInterval, err)
	}

	// Make file paths absolute relative to the config file
	configDir := filepath.Dir(path)
	if config.DatabasePath == "" {
		config.DatabasePath = DefaultDatabasePath
	}
	if !filepath.IsAbs(config.DatabasePath) {
		config.DatabasePath = filepath.Join(configDir, config.DatabasePath)
	}
	if config.LogFile != "" && !filepath.IsAbs(config.LogFile) {
		config.LogFile = filepath.Join(configDir, config.LogFile)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Default returns the configuration written by CreateDefaultConfig
func Default() *Config {
	return &Config{
		GitHubToken:           "",
		DatabasePath:          DefaultDatabasePath,
		Repositories:          []string{"example/repo"},
		RefreshInterval:       DefaultRefreshInterval,
		Workers:               DefaultWorkers,
		ExcludedLabelPrefixes: []string{"status."},
		PersistSyncTokens:     true,
		LogLevel:              "info",
	}
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(Default(), path)
}

// AddRepository appends repo unless it is already listed, reporting whether
// the list changed
func (c *Config) AddRepository(repo string) bool {
	for _, existing := range c.Repositories {
		if existing == repo {
			return false
		}
	}
	c.Repositories = append(c.Repositories, repo)
	return true
}
