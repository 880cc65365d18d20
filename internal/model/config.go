package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// IMAPConfig holds the IMAP server settings for mailbox scanning.
type IMAPConfig struct {
	Host    string `mapstructure:"host" yaml:"host"`
	Port    string `mapstructure:"port" yaml:"port"`
	TLS     bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// SMTPConfig holds the SMTP server settings for outbound mail
// (used by the mailto unsubscribe strategy).
type SMTPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
	TLS  bool   `mapstructure:"tls" yaml:"tls"`
}

// ScanConfig controls how far back and how many messages a scan covers.
type ScanConfig struct {
	Days  int `mapstructure:"days" yaml:"days"`
	Limit int `mapstructure:"limit" yaml:"limit"`
}

// UnsubscribeConfig controls the rate limiting applied to outbound
// unsubscribe attempts.
type UnsubscribeConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	MinDelaySec int `mapstructure:"min_delay_sec" yaml:"min_delay_sec"`
	MaxDelaySec int `mapstructure:"max_delay_sec" yaml:"max_delay_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Username     string            `mapstructure:"username" yaml:"username"`
	IMAP         IMAPConfig        `mapstructure:"imap" yaml:"imap"`
	SMTP         SMTPConfig        `mapstructure:"smtp" yaml:"smtp"`
	Scan         ScanConfig        `mapstructure:"scan" yaml:"scan"`
	Unsubscribe  UnsubscribeConfig `mapstructure:"unsubscribe" yaml:"unsubscribe"`
	DatabasePath string            `mapstructure:"database_path" yaml:"database_path"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/unsubscriber/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "unsubscriber", "config.yaml")
}

// DefaultDatabasePath returns the default location of the local database.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "unsubscriber.db")
	}
	return filepath.Join(home, ".config", "unsubscriber", "unsubscriber.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		IMAP: IMAPConfig{
			Port:    "993",
			TLS:     true,
			Mailbox: "INBOX",
		},
		SMTP: SMTPConfig{
			Port: "465",
			TLS:  true,
		},
		Scan: ScanConfig{
			Days:  30,
			Limit: 500,
		},
		Unsubscribe: UnsubscribeConfig{
			Concurrency: 3,
			MinDelaySec: 2,
			MaxDelaySec: 5,
		},
		DatabasePath: DefaultDatabasePath(),
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("smtp.port", "465")
	v.SetDefault("smtp.tls", true)
	v.SetDefault("scan.days", 30)
	v.SetDefault("scan.limit", 500)
	v.SetDefault("unsubscribe.concurrency", 3)
	v.SetDefault("unsubscribe.min_delay_sec", 2)
	v.SetDefault("unsubscribe.max_delay_sec", 5)
	v.SetDefault("database_path", DefaultDatabasePath())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("username", cfg.Username)
	v.Set("imap", cfg.IMAP)
	v.Set("smtp", cfg.SMTP)
	v.Set("scan", cfg.Scan)
	v.Set("unsubscribe", cfg.Unsubscribe)
	v.Set("database_path", cfg.DatabasePath)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
