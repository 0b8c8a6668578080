package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration, loaded from an optional YAML file
// with environment-variable overrides.
type Config struct {
	Server struct {
		URL              string `yaml:"url"`
		ReconnectWaitSec int    `yaml:"reconnect_wait_sec"`
		HandshakeSec     int    `yaml:"handshake_sec"`
		PingIntervalSec  int    `yaml:"ping_interval_sec"`
	} `yaml:"server"`
	User struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		ImageURL string `yaml:"image_url"`
	} `yaml:"user"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

func defaults() *Config {
	var cfg Config
	cfg.Server.URL = "ws://localhost:3000/ws"
	cfg.Server.ReconnectWaitSec = 2
	cfg.Server.HandshakeSec = 10
	cfg.Server.PingIntervalSec = 30
	cfg.Log.Level = "info"
	cfg.Log.Pretty = true
	return &cfg
}

// Load reads the config file if it exists and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.URL = getEnv("QUIZRUSH_SERVER_URL", cfg.Server.URL)
	cfg.Server.ReconnectWaitSec = getEnvAsInt("QUIZRUSH_RECONNECT_WAIT_SEC", cfg.Server.ReconnectWaitSec)
	cfg.Log.Level = getEnv("QUIZRUSH_LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
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
