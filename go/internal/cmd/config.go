package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LeaseTTL returns the configured lease TTL as a duration.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Store.LeaseTTLSeconds) * time.Second
}

// Config is the server configuration, loaded from YAML with environment
// variable overrides on top.
type Config struct {
	Port string `yaml:"port"`

	Store struct {
		// Backend selects the shared store: memory, nats, postgres, redis.
		Backend string `yaml:"backend"`
		// LeaseTTLSeconds bounds disconnect detection: a dead client's
		// pending write lands within twice this value.
		LeaseTTLSeconds int `yaml:"lease_ttl_seconds"`

		NATS struct {
			URL    string `yaml:"url"`
			Bucket string `yaml:"bucket"`
		} `yaml:"nats"`

		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"store"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	cfg := &Config{Port: "8080"}
	cfg.Store.Backend = "memory"
	cfg.Store.LeaseTTLSeconds = 10
	cfg.Store.NATS.URL = "nats://localhost:4222"
	cfg.Store.NATS.Bucket = "focusroom"
	cfg.Store.Redis.Addr = "localhost:6379"
	cfg.Log.Level = "info"
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides win over the file.
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.NATS.URL = getEnv("NATS_URL", cfg.Store.NATS.URL)
	cfg.Store.NATS.Bucket = getEnv("NATS_BUCKET", cfg.Store.NATS.Bucket)
	cfg.Store.Redis.Addr = getEnv("REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Store.Redis.DB)
	cfg.Store.LeaseTTLSeconds = getEnvAsInt("STORE_LEASE_TTL_SECONDS", cfg.Store.LeaseTTLSeconds)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

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
