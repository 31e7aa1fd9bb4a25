package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// config is the install daemon configuration. Values come from an optional
// YAML file, overridden by environment variables (a .env file is honored).
type config struct {
	Addr            string `yaml:"addr"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	CredentialsFile string `yaml:"credentials_file"`
	LogLevel        string `yaml:"log_level"`
}

func loadConfig(path string) (config, error) {
	_ = godotenv.Load()

	cfg := config{
		Addr:            ":8080",
		CredentialsFile: "credentials.json",
		LogLevel:        "info",
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("B24_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("B24_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("B24_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
	if v := os.Getenv("B24_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
	if v := os.Getenv("B24_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

func (c config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
