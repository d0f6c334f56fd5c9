package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML service configuration. Environment variables
// override file values so container deployments need no file at all.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Collector struct {
		FeedURL  string `yaml:"feed_url"`
		Interval string `yaml:"interval"`
	} `yaml:"collector"`
	Events struct {
		ProcessingInterval string `yaml:"processing_interval"`
		DeliveryTimeout    string `yaml:"delivery_timeout"`
		MaxParallel        int    `yaml:"max_parallel"`
	} `yaml:"events"`
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	if path == "" {
		return &config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// duration resolves a yaml duration string with env override and default
func duration(envKey, yamlValue string, fallback time.Duration) time.Duration {
	if yamlValue != "" {
		if d, err := time.ParseDuration(yamlValue); err == nil {
			fallback = d
		}
	}
	return getEnvAsDuration(envKey, fallback)
}
