package config

import (
	"math"

	"github.com/hyperjump/kensaku/internal/vector"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

const weightTolerance = 1e-6

var validBackends = map[string]bool{"onnx": true, "fastembed": true, "remote": true, "mock": true}

// Validate reports the first invalid setting in cfg.
func (cfg *Config) Validate() error {
	if !validBackends[cfg.Embedding.Backend] {
		return invalid("embedding.backend", cfg.Embedding.Backend)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return invalid("embedding.dimensions", cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.BatchSize <= 0 {
		return invalid("embedding.batch_size", cfg.Embedding.BatchSize)
	}
	if cfg.Embedding.CacheSize < 0 {
		return invalid("embedding.cache_size", cfg.Embedding.CacheSize)
	}
	if _, err := vector.ParseIndexType(cfg.VectorStore.IndexType); err != nil {
		return invalid("vector_store.index_type", cfg.VectorStore.IndexType)
	}
	if err := cfg.Retrieval.Validate(); err != nil {
		return err
	}
	return cfg.Confidence.Validate()
}

// Validate checks the fusion policy.
func (r *RetrievalConfig) Validate() error {
	if r.SemanticWeight < 0 || r.KeywordWeight < 0 {
		return invalid("retrieval.semantic_weight", r.SemanticWeight)
	}
	if math.Abs(r.SemanticWeight+r.KeywordWeight-1) > weightTolerance {
		return kerrors.New(kerrors.CodeConfigValidateInvalidValue, "fusion weights must sum to 1",
			kerrors.Field("semantic_weight", r.SemanticWeight),
			kerrors.Field("keyword_weight", r.KeywordWeight))
	}
	if r.PhraseBoost < 1 || r.PhraseBoost > 1.2 {
		return invalid("retrieval.phrase_boost", r.PhraseBoost)
	}
	if r.MinScore < 0 || r.MinScore >= 1 {
		return invalid("retrieval.min_score", r.MinScore)
	}
	if r.ExpansionFactor < 2 {
		return invalid("retrieval.expansion_factor", r.ExpansionFactor)
	}
	if r.MinQueryLength < 1 {
		return invalid("retrieval.min_query_length", r.MinQueryLength)
	}
	if r.DefaultMaxResults <= 0 || r.DefaultMaxResults > r.MaxResults {
		return invalid("retrieval.default_max_results", r.DefaultMaxResults)
	}
	return nil
}

// Validate checks the confidence calibration.
func (c *ConfidenceConfig) Validate() error {
	weights := []float64{c.RetrievalWeight, c.UpstreamWeight, c.LengthWeight, c.OverlapWeight, c.ConsensusWeight}
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return invalid("confidence weights", w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return kerrors.New(kerrors.CodeConfigValidateInvalidValue, "confidence weights must sum to 1",
			kerrors.Field("sum", sum))
	}
	if !(c.Min > 0 && c.Min < c.Max && c.Max < 1) {
		return kerrors.New(kerrors.CodeConfigValidateInvalidValue, "confidence bounds must satisfy 0 < min < max < 1",
			kerrors.Field("min", c.Min), kerrors.Field("max", c.Max))
	}
	if c.LengthNorm <= 0 {
		return invalid("confidence.length_norm", c.LengthNorm)
	}
	if c.DefaultUpstream < 0 || c.DefaultUpstream > 1 {
		return invalid("confidence.default_upstream", c.DefaultUpstream)
	}
	if c.UpstreamBoost.Factor < 1 {
		return invalid("confidence.upstream_boost.factor", c.UpstreamBoost.Factor)
	}
	return nil
}

func invalid(key string, value any) error {
	return kerrors.New(kerrors.CodeConfigValidateInvalidValue, "invalid config value",
		kerrors.Field("key", key), kerrors.Field("value", value))
}
