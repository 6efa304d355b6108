// Package config loads and validates engine configuration, layering
// hardcoded defaults, a user config file, a project config file, and
// environment variable overrides — in that order of increasing
// precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration, mirroring spec.md §6.
type Config struct {
	VaultRoot  string           `yaml:"vault_root" json:"vault_root"`
	SnapshotDir string          `yaml:"snapshot_dir" json:"snapshot_dir"`
	Embedding  EmbeddingConfig  `yaml:"embedding" json:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Sharding   ShardingConfig   `yaml:"sharding" json:"sharding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Faiss      FaissConfig      `yaml:"faiss" json:"faiss"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// EmbeddingConfig configures the embedding model.
type EmbeddingConfig struct {
	ModelPath          string `yaml:"model_path" json:"model_path"`
	TokenizerPath      string `yaml:"tokenizer_path" json:"tokenizer_path"`
	MaxSequenceLength  int    `yaml:"max_sequence_length" json:"max_sequence_length"`
	NumThreads         int    `yaml:"num_threads" json:"num_threads"`
	BatchSize          int    `yaml:"batch_size" json:"batch_size"`
}

// ChunkingConfig configures the chunker's token-budget knobs (C3).
type ChunkingConfig struct {
	TargetMin     int `yaml:"target_min" json:"target_min"`
	TargetMax     int `yaml:"target_max" json:"target_max"`
	HardMax       int `yaml:"hard_max" json:"hard_max"`
	MinPreferred  int `yaml:"min_preferred" json:"min_preferred"`
	Overlap       int `yaml:"overlap" json:"overlap"`
}

// ShardingConfig configures shard count and per-query shard fan-out (C4).
type ShardingConfig struct {
	ShardCount       int `yaml:"shard_count" json:"shard_count"`
	MaxShardsPerQuery int `yaml:"max_shards_per_query" json:"max_shards_per_query"`
}

// RetrievalConfig configures hybrid fusion and result shaping (C11/C12).
type RetrievalConfig struct {
	VectorWeight           float64 `yaml:"vector_weight" json:"vector_weight"`
	BM25Weight             float64 `yaml:"bm25_weight" json:"bm25_weight"`
	DefaultTopK            int     `yaml:"default_top_k" json:"default_top_k"`
	MaxTopK                int     `yaml:"max_top_k" json:"max_top_k"`
	DefaultMaxExcerptChars int     `yaml:"default_max_excerpt_chars" json:"default_max_excerpt_chars"`
	MaxMaxExcerptChars     int     `yaml:"max_max_excerpt_chars" json:"max_max_excerpt_chars"`
	SpanMergeGapThreshold  int     `yaml:"span_merge_gap_threshold" json:"span_merge_gap_threshold"`
}

// FaissConfig configures the per-shard ANN layer (C6).
type FaissConfig struct {
	MaxCachedShards int `yaml:"max_cached_shards" json:"max_cached_shards"`
	IVFPQThreshold  int `yaml:"ivfpq_threshold" json:"ivfpq_threshold"`
	NProbe          int `yaml:"nprobe" json:"nprobe"`
}

// WatcherConfig configures the file watcher (C13).
type WatcherConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	DebounceMs  int  `yaml:"debounce_ms" json:"debounce_ms"`
}

// NewConfig returns a Config with the defaults spec.md §6 prescribes.
func NewConfig() *Config {
	return &Config{
		SnapshotDir: "",
		Embedding: EmbeddingConfig{
			MaxSequenceLength: 8192,
			NumThreads:        4,
			BatchSize:         32,
		},
		Chunking: ChunkingConfig{
			TargetMin:    600,
			TargetMax:    1000,
			HardMax:      1200,
			MinPreferred: 200,
			Overlap:      100,
		},
		Sharding: ShardingConfig{
			ShardCount:        128,
			MaxShardsPerQuery: 16,
		},
		Retrieval: RetrievalConfig{
			VectorWeight:           0.75,
			BM25Weight:             0.25,
			DefaultTopK:            8,
			MaxTopK:                50,
			DefaultMaxExcerptChars: 4000,
			MaxMaxExcerptChars:     20000,
			SpanMergeGapThreshold:  200,
		},
		Faiss: FaissConfig{
			MaxCachedShards: 16,
			IVFPQThreshold:  1000,
			NProbe:          16,
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 2000,
		},
		LogLevel: "info",
	}
}

// Load loads configuration for vaultRoot in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (~/.config/msrl/config.yaml), for machine-wide settings
//  3. Project config (.msrl.yaml / .msrl.yml in vaultRoot)
//  4. Environment variables (MSRL_*)
//  5. Validate()
func Load(vaultRoot string) (*Config, error) {
	cfg := NewConfig()
	cfg.VaultRoot = vaultRoot
	cfg.SnapshotDir = filepath.Join(vaultRoot, ".msrl")

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(vaultRoot); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// GetUserConfigDir returns the machine-wide msrl config directory, honoring
// XDG_CONFIG_HOME (via os.UserConfigDir) the way the rest of the XDG base
// directory spec-aware tooling in this ecosystem does.
func GetUserConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "msrl")
}

// GetUserConfigPath returns the path to the machine-wide config file.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether a machine-wide config file is present.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".msrl.yaml", ".msrl.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields of other onto c. VaultRoot and
// Watcher.Enabled are never taken from other.
func (c *Config) mergeWith(other *Config) {
	if other.SnapshotDir != "" {
		c.SnapshotDir = other.SnapshotDir
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	if other.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = other.Embedding.ModelPath
	}
	if other.Embedding.TokenizerPath != "" {
		c.Embedding.TokenizerPath = other.Embedding.TokenizerPath
	}
	if other.Embedding.MaxSequenceLength != 0 {
		c.Embedding.MaxSequenceLength = other.Embedding.MaxSequenceLength
	}
	if other.Embedding.NumThreads != 0 {
		c.Embedding.NumThreads = other.Embedding.NumThreads
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	if other.Chunking.TargetMin != 0 {
		c.Chunking.TargetMin = other.Chunking.TargetMin
	}
	if other.Chunking.TargetMax != 0 {
		c.Chunking.TargetMax = other.Chunking.TargetMax
	}
	if other.Chunking.HardMax != 0 {
		c.Chunking.HardMax = other.Chunking.HardMax
	}
	if other.Chunking.MinPreferred != 0 {
		c.Chunking.MinPreferred = other.Chunking.MinPreferred
	}
	if other.Chunking.Overlap != 0 {
		c.Chunking.Overlap = other.Chunking.Overlap
	}

	if other.Sharding.ShardCount != 0 {
		c.Sharding.ShardCount = other.Sharding.ShardCount
	}
	if other.Sharding.MaxShardsPerQuery != 0 {
		c.Sharding.MaxShardsPerQuery = other.Sharding.MaxShardsPerQuery
	}

	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.BM25Weight != 0 {
		c.Retrieval.BM25Weight = other.Retrieval.BM25Weight
	}
	if other.Retrieval.DefaultTopK != 0 {
		c.Retrieval.DefaultTopK = other.Retrieval.DefaultTopK
	}
	if other.Retrieval.MaxTopK != 0 {
		c.Retrieval.MaxTopK = other.Retrieval.MaxTopK
	}
	if other.Retrieval.DefaultMaxExcerptChars != 0 {
		c.Retrieval.DefaultMaxExcerptChars = other.Retrieval.DefaultMaxExcerptChars
	}
	if other.Retrieval.MaxMaxExcerptChars != 0 {
		c.Retrieval.MaxMaxExcerptChars = other.Retrieval.MaxMaxExcerptChars
	}
	if other.Retrieval.SpanMergeGapThreshold != 0 {
		c.Retrieval.SpanMergeGapThreshold = other.Retrieval.SpanMergeGapThreshold
	}

	if other.Faiss.MaxCachedShards != 0 {
		c.Faiss.MaxCachedShards = other.Faiss.MaxCachedShards
	}
	if other.Faiss.IVFPQThreshold != 0 {
		c.Faiss.IVFPQThreshold = other.Faiss.IVFPQThreshold
	}
	if other.Faiss.NProbe != 0 {
		c.Faiss.NProbe = other.Faiss.NProbe
	}

	if other.Watcher.DebounceMs != 0 {
		c.Watcher.DebounceMs = other.Watcher.DebounceMs
	}
}

// envOverride applies fn if the named env var is set.
func envOverride(name string, fn func(v string)) {
	if v := os.Getenv(name); v != "" {
		fn(v)
	}
}

// applyEnvOverrides applies MSRL_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	envOverride("MSRL_VAULT_ROOT", func(v string) { c.VaultRoot = v })
	envOverride("MSRL_SNAPSHOT_DIR", func(v string) { c.SnapshotDir = v })
	envOverride("MSRL_MODEL_PATH", func(v string) { c.Embedding.ModelPath = v })
	envOverride("MSRL_EMBEDDING_THREADS", func(v string) {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.NumThreads = n
		}
	})
	envOverride("MSRL_WATCHER_ENABLED", func(v string) {
		c.Watcher.Enabled = strings.EqualFold(v, "true") || v == "1"
	})
	envOverride("MSRL_WATCHER_DEBOUNCE_MS", func(v string) {
		if n, err := strconv.Atoi(v); err == nil && n >= 100 {
			c.Watcher.DebounceMs = n
		}
	})
	envOverride("MSRL_LOG_LEVEL", func(v string) { c.LogLevel = v })
}

// Validate returns an error describing the first invalid field found.
func (c *Config) Validate() error {
	if c.VaultRoot == "" {
		return fmt.Errorf("vault_root is required")
	}

	sum := c.Retrieval.VectorWeight + c.Retrieval.BM25Weight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("retrieval.vector_weight + retrieval.bm25_weight must equal 1.0, got %.4f", sum)
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.BM25Weight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}

	if c.Chunking.TargetMin <= 0 || c.Chunking.TargetMax < c.Chunking.TargetMin || c.Chunking.HardMax < c.Chunking.TargetMax {
		return fmt.Errorf("chunking thresholds must satisfy 0 < target_min <= target_max <= hard_max")
	}

	if c.Sharding.ShardCount <= 0 {
		return fmt.Errorf("sharding.shard_count must be positive")
	}

	if c.Watcher.DebounceMs < 100 {
		return fmt.Errorf("watcher.debounce_ms must be >= 100, got %d", c.Watcher.DebounceMs)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to path as YAML.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// FindProjectRoot walks up from startDir looking for a .git directory
// or a .msrl.yaml/.yml file, returning startDir itself if neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".msrl.yaml")) || fileExists(filepath.Join(currentDir, ".msrl.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
