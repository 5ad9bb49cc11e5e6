package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AI         AIConfig         `yaml:"ai"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

type AIConfig struct {
	Provider       string `yaml:"provider" validate:"omitempty,oneof=openai gemini mock"`
	APIKey         string `yaml:"api_key"`
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	Model          string `yaml:"model" validate:"required"`
	DailyLimit     int    `yaml:"daily_limit" validate:"gte=0"`
	UserDailyLimit int    `yaml:"user_daily_limit" validate:"gte=0"`
	// RequestTimeout and RateLimitWait are in seconds.
	RequestTimeout int    `yaml:"request_timeout" validate:"gt=0"`
	MaxRetries     int    `yaml:"max_retries" validate:"gte=1,lte=10"`
	RateLimitWait  int    `yaml:"rate_limit_wait" validate:"gte=0"`
	MockFallback   *bool  `yaml:"mock_fallback"`
	QuotaTimezone  string `yaml:"quota_timezone"`
}

type CatalogConfig struct {
	Sections    string `yaml:"sections" validate:"required"`
	Templates   string `yaml:"templates" validate:"required"`
	Compliance  string `yaml:"compliance" validate:"required"`
	Concepts    string `yaml:"concepts" validate:"required"`
	TemplateDir string `yaml:"template_dir" validate:"required"`
}

type GenerationConfig struct {
	EnableChecks     *bool  `yaml:"enable_checks"`
	MaxRetries       int    `yaml:"max_retries" validate:"gte=1,lte=10"`
	Concurrency      int    `yaml:"concurrency" validate:"gte=1,lte=32"`
	StrictValidation bool   `yaml:"strict_validation"`
	MaxTemplateBytes int64  `yaml:"max_template_bytes" validate:"gt=0"`
	ReportDir        string `yaml:"report_dir"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			DailyLimit:     1000,
			UserDailyLimit: 100,
			RequestTimeout: 30,
			MaxRetries:     3,
			RateLimitWait:  60,
		},
		Catalog: CatalogConfig{
			Sections:    "assets/catalog/sections.json",
			Templates:   "assets/catalog/templates.json",
			Compliance:  "assets/catalog/compliance.json",
			Concepts:    "assets/catalog/concepts.json",
			TemplateDir: "assets/templates",
		},
		Generation: GenerationConfig{
			MaxRetries:       3,
			Concurrency:      1,
			MaxTemplateBytes: 512 * 1024,
		},
		Storage: StorageConfig{DBPath: "envplan.db"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config on top of defaults
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"AI_DAILY_LIMIT", &cfg.AI.DailyLimit},
		{"AI_USER_DAILY_LIMIT", &cfg.AI.UserDailyLimit},
		{"AI_REQUEST_TIMEOUT", &cfg.AI.RequestTimeout},
		{"AI_MAX_RETRIES", &cfg.AI.MaxRetries},
	}
	for _, it := range ints {
		raw := strings.TrimSpace(os.Getenv(it.key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", it.key, err)
		}
		*it.dst = n
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.AI.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AI.GeminiAPIKey = v
	}
	if v := os.Getenv("AI_QUOTA_TIMEZONE"); v != "" {
		cfg.AI.QuotaTimezone = v
	}
	if v := os.Getenv("ENVPLAN_DB"); v != "" {
		cfg.Storage.DBPath = v
	}
	return nil
}

func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c AIConfig) RateLimitDelay() time.Duration {
	return time.Duration(c.RateLimitWait) * time.Second
}

// MockOnFailure reports whether exhausted retries downgrade to mock output.
func (c AIConfig) MockOnFailure() bool {
	return c.MockFallback == nil || *c.MockFallback
}

// Location resolves the time zone used for the daily quota boundary.
func (c AIConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.QuotaTimezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.QuotaTimezone)
}

func (g GenerationConfig) ChecksEnabled() bool {
	return g.EnableChecks == nil || *g.EnableChecks
}
