package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the coordinator's file configuration. Environment variables
// override file values so deployments can keep secrets out of the file.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Session struct {
		GracePeriodSeconds int `yaml:"grace_period_seconds"`
	} `yaml:"session"`

	Gateway struct {
		ObserverToken string `yaml:"observer_token"`
		AdminToken    string `yaml:"admin_token"`
	} `yaml:"gateway"`

	Grader struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"grader"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`

	Database struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"database"`
}

func loadConfig(path string) (*Config, error) {
	var config Config

	// Defaults
	config.Server.Port = "8080"
	config.Session.GracePeriodSeconds = 30
	config.Grader.BaseURL = "http://localhost:9090"
	config.NATS.URL = "nats://localhost:4222"

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment overrides
	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Session.GracePeriodSeconds = getEnvAsInt("SESSION_GRACE_PERIOD_SECONDS", config.Session.GracePeriodSeconds)
	config.Gateway.ObserverToken = getEnv("OBSERVER_TOKEN", config.Gateway.ObserverToken)
	config.Gateway.AdminToken = getEnv("ADMIN_TOKEN", config.Gateway.AdminToken)
	config.Grader.BaseURL = getEnv("GRADER_URL", config.Grader.BaseURL)
	config.Grader.APIKey = getEnv("GRADER_API_KEY", config.Grader.APIKey)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)

	return &config, nil
}

// GracePeriod returns the session eviction grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Session.GracePeriodSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
