package retrieval

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/hyperjump/kensaku/internal/models"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// ConfidenceFactors are the per-document signals combined into a confidence.
type ConfidenceFactors struct {
	Retrieval float64
	Upstream  float64
	Length    float64
	Overlap   float64
	Consensus float64
	// HasConsensus is false when no engine agreement was recorded; the
	// consensus weight is then spread over the other factors.
	HasConsensus bool
}

// ComputeFactors derives the confidence factors of entry for a retrieval score.
func ComputeFactors(entry *models.IndexEntry, retrievalScore float64, aq *AnalyzedQuery, p *ConfidencePolicy) ConfidenceFactors {
	f := ConfidenceFactors{
		Retrieval: utils.Clamp(retrievalScore, 0, 1),
		Upstream:  p.DefaultUpstream,
	}
	if v, ok := entry.NormalizedUpstream(); ok {
		f.Upstream = v
	}
	if p.BoostEnabled && f.Upstream > p.BoostThreshold {
		f.Upstream = math.Min(1, f.Upstream*p.BoostFactor)
	}
	f.Length = math.Min(float64(utf8.RuneCountInString(entry.Text))/float64(p.LengthNorm), 1)
	if aq != nil {
		f.Overlap = aq.TermOverlap(entry.Text)
	}
	if entry.ConsensusEngines > 0 {
		f.HasConsensus = true
		f.Consensus = math.Min(1, 0.5+0.2*float64(entry.ConsensusEngines-1))
	}
	return f
}

// Confidence combines f under p and clamps the result to [p.Min, p.Max].
// A non-finite combination is reported as a confidence failure.
func Confidence(f ConfidenceFactors, p *ConfidencePolicy) (float64, error) {
	wr, wu, wl, wo := p.RetrievalWeight, p.UpstreamWeight, p.LengthWeight, p.OverlapWeight
	sum := wr*f.Retrieval + wu*f.Upstream + wl*f.Length + wo*f.Overlap
	if f.HasConsensus {
		sum += p.ConsensusWeight * f.Consensus
	} else {
		rest := wr + wu + wl + wo
		if rest > 0 {
			sum *= (rest + p.ConsensusWeight) / rest
		}
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, kerrors.New(kerrors.CodeConfidenceFailure, fmt.Sprintf("confidence is not finite: %v", sum))
	}
	return utils.Clamp(sum, p.Min, p.Max), nil
}

// FallbackConfidence is the clamped raw similarity used when Confidence fails.
func FallbackConfidence(similarity float64, p *ConfidencePolicy) float64 {
	if math.IsNaN(similarity) {
		return p.Min
	}
	return utils.Clamp(similarity, p.Min, p.Max)
}
