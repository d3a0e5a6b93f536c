// Package config provides configuration loading and management for taxomat.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete taxomat configuration
type Config struct {
	// Language is the default display language (lowercase two-letter code)
	Language string `yaml:"language"`
	// Languages are the languages materialized in tree labels (default: [language])
	Languages []string `yaml:"languages"`
	// DataDir holds downloaded taxonomies and the sqlite cache
	// (default: ~/.local/share/taxomat)
	DataDir string `yaml:"data_dir"`

	Log   LogConfig   `yaml:"log"`
	API   APIConfig   `yaml:"api"`
	Cache CacheConfig `yaml:"cache"`
	Gate  GateConfig  `yaml:"gate"`

	Sources SourcesConfig `yaml:"sources"`

	Roots RootsConfig `yaml:"roots"`
	// RootMaps maps native source roots to canonical roots, per source.
	// Empty uses the built-in tables.
	RootMaps map[string]map[string]string `yaml:"root_maps,omitempty"`
	// LanguageFallbacks maps a language to related languages tried before the
	// final fallback. Empty uses the built-in chains.
	LanguageFallbacks map[string][]string `yaml:"language_fallbacks,omitempty"`
	// FinalFallback is the display language of last resort
	FinalFallback string `yaml:"final_fallback"`

	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Tree       TreeConfig       `yaml:"tree"`
}

// LogConfig configures structured logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// APIConfig configures the HTTP API listener
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CacheConfig configures the lookup cache
type CacheConfig struct {
	// Backend is one of memory, sqlite, nats, redis
	Backend string `yaml:"backend"`
	// Path is the sqlite file (default: <data_dir>/cache.db)
	Path string `yaml:"path"`
	// URL is the nats:// or redis:// server URL, depending on backend
	URL string `yaml:"url"`
	// Bucket is the NATS KV bucket name
	Bucket string `yaml:"bucket"`
	// TTL is the lifetime of positive entries
	TTL time.Duration `yaml:"ttl"`
	// NegativeTTL is the lifetime of not-found entries
	NegativeTTL time.Duration `yaml:"negative_ttl"`
}

// RetryConfig configures retry with exponential backoff
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// GateConfig configures per-source pacing and circuit breaking
type GateConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is how long an open breaker waits before a probe
	Cooldown time.Duration `yaml:"cooldown"`
	// MinInterval is the minimum spacing between requests to one source
	MinInterval time.Duration `yaml:"min_interval"`
	// Retry applies to transient failures within a single fetch
	Retry RetryConfig `yaml:"retry"`
	// Timeout is the per-request timeout for source fetches
	Timeout time.Duration `yaml:"timeout"`
}

// SourceConfig holds per-source endpoint settings
type SourceConfig struct {
	// Endpoint is the query endpoint (SPARQL or REST)
	Endpoint string `yaml:"endpoint"`
	// TaxonomyURL is a full-taxonomy download URL, for sources that ship one
	TaxonomyURL string `yaml:"taxonomy_url"`
	// Refresh is how often a downloaded taxonomy is re-fetched
	Refresh time.Duration `yaml:"refresh"`
}

// SourcesConfig configures the external classification sources
type SourcesConfig struct {
	// Enabled lists the sources consulted during lookups
	Enabled []string `yaml:"enabled"`
	// Priority orders sources for merge conflicts, highest first
	Priority []string `yaml:"priority"`
	// FoodTerms are terms that prefer agricultural sources over encyclopedic
	// ones. Empty uses the built-in set.
	FoodTerms []string `yaml:"food_terms,omitempty"`

	OFF      SourceConfig `yaml:"off"`
	Agrovoc  SourceConfig `yaml:"agrovoc"`
	DBpedia  SourceConfig `yaml:"dbpedia"`
	Wikidata SourceConfig `yaml:"wikidata"`
}

// Settings returns the per-source settings for a source name
func (s SourcesConfig) Settings(name string) SourceConfig {
	switch name {
	case "off":
		return s.OFF
	case "agrovoc":
		return s.Agrovoc
	case "dbpedia":
		return s.DBpedia
	case "wikidata":
		return s.Wikidata
	}
	return SourceConfig{}
}

// RootsConfig configures the canonical top-level categories
type RootsConfig struct {
	// Order is the display order of roots. Empty uses the built-in list.
	Order []string `yaml:"order,omitempty"`
	// Synthetic lists roots that exist even without concepts, used for
	// orphan promotion (default: [uncategorized])
	Synthetic []string `yaml:"synthetic,omitempty"`
}

// VocabularyConfig configures local concept overrides
type VocabularyConfig struct {
	// Paths are glob patterns for local concept YAML files
	Paths []string `yaml:"paths"`
	// Watch rebuilds the tree when a vocabulary file changes
	Watch bool `yaml:"watch"`
}

// TreeConfig configures tree building
type TreeConfig struct {
	// RebuildInterval is the periodic rebuild cadence (0 disables)
	RebuildInterval time.Duration `yaml:"rebuild_interval"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Language:  "en",
		Languages: []string{"en"},
		DataDir:   "", // Resolved by the loader
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Cache: CacheConfig{
			Backend:     "sqlite",
			Bucket:      "taxomat-cache",
			TTL:         1440 * time.Hour,
			NegativeTTL: 168 * time.Hour,
		},
		Gate: GateConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
			MinInterval:      time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BackoffBase:       2 * time.Second,
				BackoffMultiplier: 2.0,
				MaxBackoff:        30 * time.Second,
			},
			Timeout: 30 * time.Second,
		},
		Sources: SourcesConfig{
			Enabled:  []string{"off", "agrovoc", "dbpedia", "wikidata"},
			Priority: []string{"off", "agrovoc", "dbpedia", "wikidata"},
			OFF: SourceConfig{
				TaxonomyURL: "https://static.openfoodfacts.org/data/taxonomies/categories.full.json",
				Refresh:     720 * time.Hour,
			},
			Agrovoc: SourceConfig{
				Endpoint: "https://agrovoc.fao.org/sparql",
			},
			DBpedia: SourceConfig{
				Endpoint: "https://dbpedia.org/sparql",
			},
			Wikidata: SourceConfig{
				Endpoint: "https://www.wikidata.org/w/api.php",
			},
		},
		Roots: RootsConfig{
			Order:     nil, // Built-in list
			Synthetic: []string{"uncategorized"},
		},
		FinalFallback: "en",
		Vocabulary: VocabularyConfig{
			Paths: []string{"vocabulary/*.yaml"},
			Watch: true,
		},
		Tree: TreeConfig{
			RebuildInterval: 15 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}
	switch c.Cache.Backend {
	case "memory", "sqlite", "nats", "redis":
	default:
		return fmt.Errorf("cache.backend must be one of memory, sqlite, nats, redis")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.NegativeTTL <= 0 {
		return fmt.Errorf("cache.negative_ttl must be positive")
	}
	if c.Gate.FailureThreshold < 1 {
		return fmt.Errorf("gate.failure_threshold must be at least 1")
	}
	if c.Gate.Cooldown <= 0 {
		return fmt.Errorf("gate.cooldown must be positive")
	}
	if c.Gate.MinInterval < 0 {
		return fmt.Errorf("gate.min_interval must not be negative")
	}
	if c.Gate.Timeout <= 0 {
		return fmt.Errorf("gate.timeout must be positive")
	}
	if c.Gate.Retry.MaxAttempts < 1 {
		return fmt.Errorf("gate.retry.max_attempts must be at least 1")
	}
	if c.Gate.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("gate.retry.backoff_multiplier must be at least 1")
	}
	if c.FinalFallback == "" {
		return fmt.Errorf("final_fallback is required")
	}
	if c.Tree.RebuildInterval < 0 {
		return fmt.Errorf("tree.rebuild_interval must not be negative")
	}
	priority := make(map[string]bool, len(c.Sources.Priority))
	for _, name := range c.Sources.Priority {
		priority[name] = true
	}
	if len(priority) > 0 {
		for _, name := range c.Sources.Enabled {
			if !priority[name] {
				return fmt.Errorf("sources.priority is missing enabled source %q", name)
			}
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Language != "" {
		c.Language = other.Language
	}
	if len(other.Languages) > 0 {
		c.Languages = other.Languages
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// API
	if other.API.Host != "" {
		c.API.Host = other.API.Host
	}
	if other.API.Port != 0 {
		c.API.Port = other.API.Port
	}

	// Cache
	if other.Cache.Backend != "" {
		c.Cache.Backend = other.Cache.Backend
	}
	if other.Cache.Path != "" {
		c.Cache.Path = other.Cache.Path
	}
	if other.Cache.URL != "" {
		c.Cache.URL = other.Cache.URL
	}
	if other.Cache.Bucket != "" {
		c.Cache.Bucket = other.Cache.Bucket
	}
	if other.Cache.TTL != 0 {
		c.Cache.TTL = other.Cache.TTL
	}
	if other.Cache.NegativeTTL != 0 {
		c.Cache.NegativeTTL = other.Cache.NegativeTTL
	}

	// Gate
	if other.Gate.FailureThreshold != 0 {
		c.Gate.FailureThreshold = other.Gate.FailureThreshold
	}
	if other.Gate.Cooldown != 0 {
		c.Gate.Cooldown = other.Gate.Cooldown
	}
	if other.Gate.MinInterval != 0 {
		c.Gate.MinInterval = other.Gate.MinInterval
	}
	if other.Gate.Timeout != 0 {
		c.Gate.Timeout = other.Gate.Timeout
	}
	if other.Gate.Retry.MaxAttempts != 0 {
		c.Gate.Retry.MaxAttempts = other.Gate.Retry.MaxAttempts
	}
	if other.Gate.Retry.BackoffBase != 0 {
		c.Gate.Retry.BackoffBase = other.Gate.Retry.BackoffBase
	}
	if other.Gate.Retry.BackoffMultiplier != 0 {
		c.Gate.Retry.BackoffMultiplier = other.Gate.Retry.BackoffMultiplier
	}
	if other.Gate.Retry.MaxBackoff != 0 {
		c.Gate.Retry.MaxBackoff = other.Gate.Retry.MaxBackoff
	}

	// Sources
	if len(other.Sources.Enabled) > 0 {
		c.Sources.Enabled = other.Sources.Enabled
	}
	if len(other.Sources.Priority) > 0 {
		c.Sources.Priority = other.Sources.Priority
	}
	if len(other.Sources.FoodTerms) > 0 {
		c.Sources.FoodTerms = other.Sources.FoodTerms
	}
	mergeSource(&c.Sources.OFF, other.Sources.OFF)
	mergeSource(&c.Sources.Agrovoc, other.Sources.Agrovoc)
	mergeSource(&c.Sources.DBpedia, other.Sources.DBpedia)
	mergeSource(&c.Sources.Wikidata, other.Sources.Wikidata)

	// Roots and mapping tables
	if len(other.Roots.Order) > 0 {
		c.Roots.Order = other.Roots.Order
	}
	if len(other.Roots.Synthetic) > 0 {
		c.Roots.Synthetic = other.Roots.Synthetic
	}
	if len(other.RootMaps) > 0 {
		c.RootMaps = other.RootMaps
	}
	if len(other.LanguageFallbacks) > 0 {
		c.LanguageFallbacks = other.LanguageFallbacks
	}
	if other.FinalFallback != "" {
		c.FinalFallback = other.FinalFallback
	}

	// Vocabulary. Watch carries the default unless a file set it, so a
	// plain assignment keeps the last layer's choice.
	if len(other.Vocabulary.Paths) > 0 {
		c.Vocabulary.Paths = other.Vocabulary.Paths
	}
	c.Vocabulary.Watch = other.Vocabulary.Watch

	// Tree
	if other.Tree.RebuildInterval != 0 {
		c.Tree.RebuildInterval = other.Tree.RebuildInterval
	}
}

func mergeSource(dst *SourceConfig, src SourceConfig) {
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.TaxonomyURL != "" {
		dst.TaxonomyURL = src.TaxonomyURL
	}
	if src.Refresh != 0 {
		dst.Refresh = src.Refresh
	}
}
