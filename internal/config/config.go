// Package config loads the YAML-driven engine configuration: batch size,
// error threshold, cost budgets, LLM model selection, and logging.
// Files are decoded with github.com/goccy/go-yaml and validated with
// struct tags via github.com/go-playground/validator/v10.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Config is the top-level ThalamusDB configuration.
type Config struct {
	// DatabasePath is the modernc.org/sqlite database file, or ":memory:".
	DatabasePath string `yaml:"database_path" validate:"required"`

	// BatchSize is how many unevaluated rows each operator processes per
	// loop iteration.
	BatchSize int `yaml:"batch_size" validate:"min=1"`
	// ErrorThreshold is the bound-gap error at or below which the loop
	// terminates, in [0, 1].
	ErrorThreshold float64 `yaml:"error_threshold" validate:"min=0,max=1"`
	// LLMCallBudget caps cumulative LLM calls across one query's
	// execution. 0 means unlimited.
	LLMCallBudget int `yaml:"llm_call_budget" validate:"min=0"`
	// WallClockBudgetSeconds caps wall-clock execution time for one
	// query. 0 means unlimited.
	WallClockBudgetSeconds float64 `yaml:"wall_clock_budget_seconds" validate:"min=0"`

	// LLMModel is the Gemini model name used for classification calls.
	LLMModel string `yaml:"llm_model" validate:"required"`
	// LLMAPIKeyEnv is the environment variable holding the Gemini API
	// key, so the key itself never appears in the config file.
	LLMAPIKeyEnv string `yaml:"llm_api_key_env" validate:"required"`

	// LogFormat selects "standard" or "json" logging (see internal/tlog).
	LogFormat string `yaml:"log_format" validate:"required,oneof=standard json"`
	// LogLevel is one of the levels internal/tlog.SeverityToLevel accepts.
	LogLevel string `yaml:"log_level" validate:"required"`
}

// Defaults returns the configuration used when no file is supplied: an
// in-memory database, batch size 10, a 10% error threshold, no cost
// budgets, Gemini 2.5 Flash, and standard-format info logging.
func Defaults() Config {
	return Config{
		DatabasePath:           ":memory:",
		BatchSize:              10,
		ErrorThreshold:         0.1,
		LLMCallBudget:          0,
		WallClockBudgetSeconds: 0,
		LLMModel:               "gemini-2.5-flash",
		LLMAPIKeyEnv:           "GOOGLE_API_KEY",
		LogFormat:              "standard",
		LogLevel:               "info",
	}
}

// Load reads and validates the YAML configuration at path, merging it
// over Defaults() so a config file only needs to override the fields it
// cares about.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// APIKey resolves the Gemini API key from the environment variable named
// by LLMAPIKeyEnv.
func (c Config) APIKey() string {
	return os.Getenv(c.LLMAPIKeyEnv)
}
