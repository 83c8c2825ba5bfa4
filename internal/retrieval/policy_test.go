package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kensaku/internal/config"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 0.7, p.SemanticWeight)
	assert.Equal(t, 0.3, p.KeywordWeight)
	assert.Equal(t, 1.15, p.PhraseBoost)
	assert.Equal(t, 3, p.ExpansionFactor)
	assert.True(t, p.KeywordEnabled)
	assert.False(t, p.Confidence.BoostEnabled)

	limits := p.Limits()
	assert.Equal(t, 3, limits.MinQueryLength)
	assert.Equal(t, 5, limits.DefaultMaxResults)
}

func TestNewPolicy_Rejects(t *testing.T) {
	var cfg config.Config
	config.ApplyDefaults(&cfg)

	r := cfg.Retrieval
	r.KeywordWeight = 0.5
	_, err := NewPolicy(r, cfg.Confidence)
	require.Error(t, err)
	assert.Equal(t, kerrors.CodeConfigValidateInvalidValue, kerrors.CodeOf(err))

	r = cfg.Retrieval
	r.PhraseBoost = 1.5
	_, err = NewPolicy(r, cfg.Confidence)
	assert.Error(t, err)

	c := cfg.Confidence
	c.Min, c.Max = 0.9, 0.1
	_, err = NewPolicy(cfg.Retrieval, c)
	assert.Error(t, err)
}
