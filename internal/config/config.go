// Package config provides configuration loading and structs for the kensaku server.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Confidence  ConfidenceConfig  `yaml:"confidence"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// DataDir holds one subdirectory per tenant store.
	DataDir string `yaml:"data_dir"`
	// LedgerPath is the SQLite ingestion ledger.
	LedgerPath string `yaml:"ledger_path"`
	// CachePath enables the persistent embedding cache tier when set.
	CachePath string `yaml:"cache_path"`
}

// EmbeddingConfig holds embedder backend and cache settings.
type EmbeddingConfig struct {
	Backend           string        `yaml:"backend"`
	ModelID           string        `yaml:"model_id"`
	ModelPath         string        `yaml:"model_path"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	BatchSize         int           `yaml:"batch_size"`
	CacheSize         int           `yaml:"cache_size"`
	CacheShards       int           `yaml:"cache_shards"`
	CorpusTTL         time.Duration `yaml:"corpus_ttl"`
	QueryTTL          time.Duration `yaml:"query_ttl"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	RemoteURL         string        `yaml:"remote_url"`
	RemoteToken       string        `yaml:"remote_token"`
	RateLimit         float64       `yaml:"rate_limit"`
	FastEmbedCacheDir string        `yaml:"fastembed_cache_dir"`
}

// VectorStoreConfig holds similarity index settings.
type VectorStoreConfig struct {
	IndexType string        `yaml:"index_type"`
	IOTimeout time.Duration `yaml:"io_timeout"`
}

// RetrievalConfig holds fusion and filtering policy.
type RetrievalConfig struct {
	SemanticWeight    float64 `yaml:"semantic_weight"`
	KeywordWeight     float64 `yaml:"keyword_weight"`
	PhraseBoost       float64 `yaml:"phrase_boost"`
	MinScore          float64 `yaml:"min_score"`
	ExpansionFactor   int     `yaml:"expansion_factor"`
	MinQueryLength    int     `yaml:"min_query_length"`
	DefaultMaxResults int     `yaml:"default_max_results"`
	MaxResults        int     `yaml:"max_results"`
	KeywordEnabled    *bool   `yaml:"keyword_enabled"`
	KeywordWorkers    int     `yaml:"keyword_workers"`
}

// KeywordEnabledOrDefault returns whether hybrid retrieval is enabled; defaults to true when unset.
func (r *RetrievalConfig) KeywordEnabledOrDefault() bool {
	if r.KeywordEnabled != nil {
		return *r.KeywordEnabled
	}
	return true
}

// ConfidenceConfig holds the confidence calibration weights and bounds.
type ConfidenceConfig struct {
	RetrievalWeight float64             `yaml:"retrieval_weight"`
	UpstreamWeight  float64             `yaml:"upstream_weight"`
	LengthWeight    float64             `yaml:"length_weight"`
	OverlapWeight   float64             `yaml:"overlap_weight"`
	ConsensusWeight float64             `yaml:"consensus_weight"`
	Min             float64             `yaml:"min"`
	Max             float64             `yaml:"max"`
	LengthNorm      int                 `yaml:"length_norm"`
	DefaultUpstream float64             `yaml:"default_upstream"`
	UpstreamBoost   UpstreamBoostConfig `yaml:"upstream_boost"`
}

// UpstreamBoostConfig is an unverified heuristic that amplifies high upstream
// confidence. Disabled unless explicitly enabled.
type UpstreamBoostConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	Factor    float64 `yaml:"factor"`
}

// WatchConfig controls config hot reload.
type WatchConfig struct {
	ConfigReload bool `yaml:"config_reload"`
}

// Load reads and parses the config file at path, expands paths, applies defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeConfigLoadReadFailure, "failed to read config",
			kerrors.Field("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeConfigParseInvalidFormat, "failed to parse config",
			kerrors.Field("path", path))
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath, configDir)
	if cfg.Storage.CachePath != "" {
		cfg.Storage.CachePath = expandPath(cfg.Storage.CachePath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Embedding.FastEmbedCacheDir != "" {
		cfg.Embedding.FastEmbedCacheDir = expandPath(cfg.Embedding.FastEmbedCacheDir, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return kerrors.Wrap(err, kerrors.CodeConfigParseInvalidFormat, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return kerrors.Wrap(err, kerrors.CodeConfigLoadReadFailure, "failed to write config",
			kerrors.Field("path", path))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
