package config

import "time"

// Defaults for the retrieval policy. Each is overridable from the config file.
const (
	DefaultSemanticWeight  = 0.7
	DefaultKeywordWeight   = 0.3
	DefaultPhraseBoost     = 1.15
	DefaultMinScore        = 0.1
	DefaultExpansionFactor = 3
	DefaultMinQueryLength  = 3

	DefaultConfidenceMin    = 0.05
	DefaultConfidenceMax    = 0.95
	DefaultLengthNorm       = 100
	DefaultUpstream         = 0.5
	DefaultBoostThreshold   = 0.85
	DefaultBoostFactor      = 1.3
	DefaultEmbeddingModel   = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultEmbeddingDim     = 384
	DefaultEmbeddingBatch   = 32
	DefaultCorpusTTL        = 7 * 24 * time.Hour
	DefaultQueryTTL         = time.Hour
	DefaultModelCallTimeout = 60 * time.Second
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kensaku/data/vector_store"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "/usr/local/var/kensaku/data/ledger.db"
	}

	applyEmbeddingDefaults(&cfg.Embedding)

	if cfg.VectorStore.IndexType == "" {
		cfg.VectorStore.IndexType = "memory"
	}
	if cfg.VectorStore.IOTimeout == 0 {
		cfg.VectorStore.IOTimeout = 30 * time.Second
	}

	applyRetrievalDefaults(&cfg.Retrieval)
	applyConfidenceDefaults(&cfg.Confidence)
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Backend == "" {
		e.Backend = "onnx"
	}
	if e.ModelID == "" {
		e.ModelID = DefaultEmbeddingModel
	}
	if e.ModelPath == "" && e.Backend == "onnx" {
		e.ModelPath = "/usr/local/var/kensaku/data/models/all-MiniLM-L6-v2.onnx"
	}
	if e.Dimensions == 0 {
		e.Dimensions = DefaultEmbeddingDim
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.BatchSize == 0 {
		e.BatchSize = DefaultEmbeddingBatch
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.CacheShards == 0 {
		e.CacheShards = 16
	}
	if e.CorpusTTL == 0 {
		e.CorpusTTL = DefaultCorpusTTL
	}
	if e.QueryTTL == 0 {
		e.QueryTTL = DefaultQueryTTL
	}
	if e.CallTimeout == 0 {
		e.CallTimeout = DefaultModelCallTimeout
	}
	if e.Backend == "remote" && e.RemoteURL == "" {
		e.RemoteURL = "http://localhost:8081/v1"
	}
}

func applyRetrievalDefaults(r *RetrievalConfig) {
	// Weights default as a pair so an explicit keyword_weight: 0 survives.
	if r.SemanticWeight == 0 && r.KeywordWeight == 0 {
		r.SemanticWeight = DefaultSemanticWeight
		r.KeywordWeight = DefaultKeywordWeight
	}
	if r.PhraseBoost == 0 {
		r.PhraseBoost = DefaultPhraseBoost
	}
	if r.MinScore == 0 {
		r.MinScore = DefaultMinScore
	}
	if r.ExpansionFactor == 0 {
		r.ExpansionFactor = DefaultExpansionFactor
	}
	if r.MinQueryLength == 0 {
		r.MinQueryLength = DefaultMinQueryLength
	}
	if r.DefaultMaxResults == 0 {
		r.DefaultMaxResults = 5
	}
	if r.MaxResults == 0 {
		r.MaxResults = 100
	}
	if r.KeywordWorkers == 0 {
		r.KeywordWorkers = 2
	}
}

func applyConfidenceDefaults(c *ConfidenceConfig) {
	if c.RetrievalWeight == 0 && c.UpstreamWeight == 0 && c.LengthWeight == 0 &&
		c.OverlapWeight == 0 && c.ConsensusWeight == 0 {
		c.RetrievalWeight = 0.35
		c.UpstreamWeight = 0.25
		c.LengthWeight = 0.10
		c.OverlapWeight = 0.20
		c.ConsensusWeight = 0.10
	}
	if c.Min == 0 {
		c.Min = DefaultConfidenceMin
	}
	if c.Max == 0 {
		c.Max = DefaultConfidenceMax
	}
	if c.LengthNorm == 0 {
		c.LengthNorm = DefaultLengthNorm
	}
	if c.DefaultUpstream == 0 {
		c.DefaultUpstream = DefaultUpstream
	}
	if c.UpstreamBoost.Threshold == 0 {
		c.UpstreamBoost.Threshold = DefaultBoostThreshold
	}
	if c.UpstreamBoost.Factor == 0 {
		c.UpstreamBoost.Factor = DefaultBoostFactor
	}
}
