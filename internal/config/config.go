package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderRules selects the deterministic catalog decider instead of an LLM.
const ProviderRules = "rules"

// Config holds runtime configuration loaded from YAML.
type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		LockTTL  string `yaml:"lockTtl"`
	} `yaml:"redis"`
	Catalog struct {
		// File points at a catalog source or artifact; empty uses the embedded default.
		File string `yaml:"file"`
		TTL  string `yaml:"ttl"`
	} `yaml:"catalog"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`
	AI struct {
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"`
		BaseURL         string  `yaml:"baseUrl"`
		Timeout         string  `yaml:"timeout"`
		MaxAttempts     int     `yaml:"maxAttempts"`
		MaxTokens       int     `yaml:"maxTokens"`
		Temperature     float64 `yaml:"temperature"`
		RecentResponses int     `yaml:"recentResponses"`
		AnthropicAPIKey string  `yaml:"-"`
		OpenAIAPIKey    string  `yaml:"-"`
		GeminiAPIKey    string  `yaml:"-"`
	} `yaml:"ai"`
	Engine struct {
		// SeverityThreshold overrides the threshold of a catalog loaded from file; zero keeps it.
		SeverityThreshold float64 `yaml:"severityThreshold"`
	} `yaml:"engine"`
}

// Defaults returns a configuration that runs entirely in memory with the embedded catalog
// and the deterministic decider.
func Defaults() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeout = "15s"
	cfg.Server.WriteTimeout = "30s"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Redis.LockTTL = "30s"
	cfg.Catalog.TTL = "10m"
	cfg.Auth.Issuer = "coach-platform"
	cfg.AI.Provider = ProviderRules
	cfg.AI.Timeout = "20s"
	cfg.AI.MaxAttempts = 2
	cfg.AI.MaxTokens = 512
	cfg.AI.Temperature = 0.2
	cfg.AI.RecentResponses = 25
	return cfg
}

// Load reads YAML config from the given path over Defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	ApplyEnv(&cfg, os.Getenv)
	return cfg, nil
}

// ApplyEnv overlays secrets and deployment overrides read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Auth.JWTSecret, "COACH_JWT_SECRET")
	set(&cfg.Postgres.URL, "COACH_POSTGRES_URL")
	set(&cfg.Redis.Addr, "COACH_REDIS_ADDR")
	set(&cfg.AI.Provider, "COACH_AI_PROVIDER")
	set(&cfg.AI.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	set(&cfg.AI.OpenAIAPIKey, "OPENAI_API_KEY")
	set(&cfg.AI.GeminiAPIKey, "GEMINI_API_KEY")
	set(&cfg.Log.Level, "COACH_LOG_LEVEL")
	if v := getenv("COACH_AI_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AI.MaxAttempts = n
		}
	}
}

// Validate reports settings that would fail at startup.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret (COACH_JWT_SECRET) is required")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("ai.maxAttempts must be at least 1, got %d", c.AI.MaxAttempts)
	}
	return nil
}

// TTLDuration parses a duration string with fallback.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
