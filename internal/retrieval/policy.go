package retrieval

import (
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/models"
)

// Policy is the tunable part of retrieval. A Policy is never modified after
// construction; Retriever.SetPolicy swaps in a new one.
type Policy struct {
	SemanticWeight    float64
	KeywordWeight     float64
	PhraseBoost       float64
	MinScore          float64
	ExpansionFactor   int
	MinQueryLength    int
	DefaultMaxResults int
	MaxResults        int
	KeywordEnabled    bool

	Confidence ConfidencePolicy
}

// ConfidencePolicy holds the confidence factor weights and bounds.
type ConfidencePolicy struct {
	RetrievalWeight float64
	UpstreamWeight  float64
	LengthWeight    float64
	OverlapWeight   float64
	ConsensusWeight float64
	Min             float64
	Max             float64
	LengthNorm      int
	DefaultUpstream float64

	// Unverified heuristic: multiply the upstream factor by BoostFactor when
	// it exceeds BoostThreshold. Off unless BoostEnabled.
	BoostEnabled   bool
	BoostThreshold float64
	BoostFactor    float64
}

// NewPolicy validates the retrieval and confidence sections and builds a Policy.
func NewPolicy(r config.RetrievalConfig, c config.ConfidenceConfig) (*Policy, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Policy{
		SemanticWeight:    r.SemanticWeight,
		KeywordWeight:     r.KeywordWeight,
		PhraseBoost:       r.PhraseBoost,
		MinScore:          r.MinScore,
		ExpansionFactor:   r.ExpansionFactor,
		MinQueryLength:    r.MinQueryLength,
		DefaultMaxResults: r.DefaultMaxResults,
		MaxResults:        r.MaxResults,
		KeywordEnabled:    r.KeywordEnabledOrDefault(),
		Confidence: ConfidencePolicy{
			RetrievalWeight: c.RetrievalWeight,
			UpstreamWeight:  c.UpstreamWeight,
			LengthWeight:    c.LengthWeight,
			OverlapWeight:   c.OverlapWeight,
			ConsensusWeight: c.ConsensusWeight,
			Min:             c.Min,
			Max:             c.Max,
			LengthNorm:      c.LengthNorm,
			DefaultUpstream: c.DefaultUpstream,
			BoostEnabled:    c.UpstreamBoost.Enabled,
			BoostThreshold:  c.UpstreamBoost.Threshold,
			BoostFactor:     c.UpstreamBoost.Factor,
		},
	}, nil
}

// DefaultPolicy returns the policy built from configuration defaults.
func DefaultPolicy() *Policy {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	p, err := NewPolicy(cfg.Retrieval, cfg.Confidence)
	if err != nil {
		panic("retrieval: default policy is invalid: " + err.Error())
	}
	return p
}

// Limits returns the query limits of p.
func (p *Policy) Limits() models.QueryLimits {
	return models.QueryLimits{
		MinQueryLength:    p.MinQueryLength,
		DefaultMaxResults: p.DefaultMaxResults,
		MaxResults:        p.MaxResults,
	}
}
