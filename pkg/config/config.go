package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the retrieval engine and its
// supporting infrastructure. Values are resolved in order: built-in
// defaults, optional YAML file, environment overrides.
type Config struct {
	Logger    LoggerConfig    `koanf:"logger"    yaml:"logger"`
	Knowledge KnowledgeConfig `koanf:"knowledge" yaml:"knowledge" validate:"required"`
}

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level     string `koanf:"level"      yaml:"level"      env:"LOGGER_LEVEL"      validate:"omitempty,oneof=debug info warn error"`
	JSON      bool   `koanf:"json"       yaml:"json"       env:"LOGGER_JSON"`
	AddSource bool   `koanf:"add_source" yaml:"add_source" env:"LOGGER_ADD_SOURCE"`
}

// KnowledgeConfig tunes knowledge retrieval behavior.
type KnowledgeConfig struct {
	// MinScore drops contextual entries scoring below this threshold (0-1 scale).
	MinScore float64 `koanf:"min_score" yaml:"min_score" env:"KNOWLEDGE_MIN_SCORE" validate:"min=0,max=1"`
	// ContentPrefixBytes bounds how much entry content participates in scoring.
	ContentPrefixBytes int `koanf:"content_prefix_bytes" yaml:"content_prefix_bytes" env:"KNOWLEDGE_CONTENT_PREFIX_BYTES" validate:"min=0"`
	// DefaultScopeBudget is the per-scope token budget when the caller omits one.
	DefaultScopeBudget int `koanf:"default_scope_budget" yaml:"default_scope_budget" env:"KNOWLEDGE_DEFAULT_SCOPE_BUDGET" validate:"min=0"`
	// DefaultCombinedBudget caps the composed block when the caller omits a combined budget.
	DefaultCombinedBudget int `koanf:"default_combined_budget" yaml:"default_combined_budget" env:"KNOWLEDGE_DEFAULT_COMBINED_BUDGET" validate:"min=0"`
	// FetchTimeout bounds each per-scope store call; a timed-out scope degrades to empty.
	FetchTimeout time.Duration `koanf:"fetch_timeout" yaml:"fetch_timeout" env:"KNOWLEDGE_FETCH_TIMEOUT" validate:"min=0"`
	// CacheMaxEntries sizes the optional read-through store cache.
	CacheMaxEntries int64 `koanf:"cache_max_entries" yaml:"cache_max_entries" env:"KNOWLEDGE_CACHE_MAX_ENTRIES" validate:"min=0"`
	// SimilarityCacheSize sizes the ranker's per-entry similarity profile cache.
	SimilarityCacheSize int `koanf:"similarity_cache_size" yaml:"similarity_cache_size" env:"KNOWLEDGE_SIMILARITY_CACHE_SIZE" validate:"min=0"`
	// Templates overrides the composed-block text fragments for localized deployments.
	Templates TemplatesConfig `koanf:"templates" yaml:"templates"`
}

// TemplatesConfig overrides the rendered context block fragments.
// Empty fields fall back to the built-in English templates.
type TemplatesConfig struct {
	SectionHeader string `koanf:"section_header" yaml:"section_header"`
	EntryHeader   string `koanf:"entry_header"   yaml:"entry_header"`
	Footer        string `koanf:"footer"         yaml:"footer"`
	EmptyResult   string `koanf:"empty_result"   yaml:"empty_result"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level: "info",
		},
		Knowledge: KnowledgeConfig{
			MinScore:              0.1,
			ContentPrefixBytes:    2048,
			DefaultScopeBudget:    2000,
			DefaultCombinedBudget: 6000,
			FetchTimeout:          5 * time.Second,
			CacheMaxEntries:       4096,
			SimilarityCacheSize:   1024,
		},
	}
}

var validate = validator.New()

// Validate checks the configuration against struct-level constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
