package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config carries the settings that are awkward as flat env vars: the
// progression timing knobs and the server port. Everything connection
// shaped (DB, NATS) stays in the environment.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Contest struct {
		EvaluationPeriodMins int `yaml:"evaluation_period_mins"`
		FinalCountdownMins   int `yaml:"final_countdown_mins"`
	} `yaml:"contest"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.Port = 8080
	config.Contest.EvaluationPeriodMins = 60
	config.Contest.FinalCountdownMins = 30
	return &config
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

// loadConfig reads the YAML config at path. A missing file is not an
// error: the defaults cover local development.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}
