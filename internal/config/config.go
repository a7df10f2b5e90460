// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds credentials for a single calendar/reminders provider.
type ProviderConfig struct {
	Name         string `yaml:"name"` // "apple" or "google"
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// LLMConfig selects and configures the extraction model backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "openai" or "mock"
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// Config holds all configuration for the insights service.
type Config struct {
	LLM       LLMConfig
	Providers []ProviderConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL    string
	NotifyQueue string

	// Rate limits per user
	DailyExtractionLimit  int // opportunistic per-message extraction
	WindowExtractionLimit int // explicit pull-based extraction

	// Background loops
	SyncQueueInterval time.Duration
	InboundInterval   time.Duration
	PollInterval      time.Duration
	PollLookback      time.Duration

	// External call timeout
	ExternalTimeout time.Duration

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	LLM struct {
		Provider    string  `yaml:"provider"`
		APIKey      string  `yaml:"api_key"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Providers []ProviderConfig `yaml:"calendar_providers"`
	Database  struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Notifications string `yaml:"notifications"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Limits struct {
		Daily  int `yaml:"daily_extractions"`
		Window int `yaml:"window_extractions"`
	} `yaml:"limits"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		LLM: LLMConfig{
			Provider:    firstNonEmpty(raw.LLM.Provider, envOrDefault("LLM_PROVIDER", "openai")),
			APIKey:      firstNonEmpty(raw.LLM.APIKey, os.Getenv("OPENAI_API_KEY")),
			BaseURL:     raw.LLM.BaseURL,
			Model:       firstNonEmpty(raw.LLM.Model, "gpt-4o-mini"),
			Temperature: raw.LLM.Temperature,
		},
		DatabaseURL:           firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/insights")),
		RedisURL:              firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		NotifyQueue:           firstNonEmpty(raw.Redis.Queues.Notifications, envOrDefault("NOTIFY_QUEUE", "insight_events")),
		DailyExtractionLimit:  intOrDefault(raw.Limits.Daily, 1000),
		WindowExtractionLimit: intOrDefault(raw.Limits.Window, 30),
		SyncQueueInterval:     envOrDefaultDuration("SYNC_QUEUE_INTERVAL", 60*time.Second),
		InboundInterval:       envOrDefaultDuration("INBOUND_SYNC_INTERVAL", 5*time.Minute),
		PollInterval:          envOrDefaultDuration("POLL_INTERVAL", 2*time.Minute),
		PollLookback:          envOrDefaultDuration("POLL_LOOKBACK", 3*time.Hour),
		ExternalTimeout:       envOrDefaultDuration("EXTERNAL_TIMEOUT", 15*time.Second),
		Port:                  envOrDefaultInt("PORT", 8080),
	}

	// Build provider configs, skipping entries with empty credentials
	// (commented out in YAML).
	for _, p := range raw.Providers {
		if p.Name == "" || p.BaseURL == "" {
			continue
		}
		if p.ClientID == "" || p.ClientSecret == "" || p.TokenURL == "" {
			continue
		}
		cfg.Providers = append(cfg.Providers, p)
	}

	if cfg.LLM.Provider != "openai" && cfg.LLM.Provider != "mock" {
		return nil, fmt.Errorf("unknown llm provider %q — expected openai or mock", cfg.LLM.Provider)
	}
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm api_key is required for the openai provider")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intOrDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
