package retrieval

import (
	"math"
	"sort"

	"github.com/hyperjump/kensaku/internal/models"
)

// FusedResult is one candidate with its semantic, keyword, and fused scores.
type FusedResult struct {
	Hit           models.SearchHit
	SemanticScore float64
	KeywordScore  float64
	Score         float64
	PhraseMatch   bool
	// SemanticRank is the 1-indexed rank from the vector search.
	SemanticRank int
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by their max.
func NormalizeKeywordScores(scores map[uint64]float64) map[uint64]float64 {
	normalized := make(map[uint64]float64, len(scores))
	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	for id, s := range scores {
		if maxScore > 0 {
			normalized[id] = s / maxScore
		} else {
			normalized[id] = 0
		}
	}
	return normalized
}

// IDRange is the half-open vector ID range [From, To) a keyword index was
// built over.
type IDRange struct {
	From, To uint64
}

// AllIDs covers every vector ID.
var AllIDs = IDRange{From: 0, To: math.MaxUint64}

// Contains reports whether id is in the range.
func (r IDRange) Contains(id uint64) bool {
	return id >= r.From && id < r.To
}

// RangeOf returns the ID range spanned by entries, which are in ID order.
func RangeOf(entries []models.IndexEntry) IDRange {
	if len(entries) == 0 {
		return IDRange{}
	}
	return IDRange{From: entries[0].VectorID, To: entries[len(entries)-1].VectorID + 1}
}

// Fuse scores every candidate. covered is the range the keyword index knows
// about; nil selects semantic mode. Covered candidates score the weighted sum
// of semantic and normalized keyword scores, and a phrase match lifts that to
// at least the semantic score times the phrase boost, capped at 1. Other
// candidates keep their semantic score.
func Fuse(hits []models.SearchHit, keywordScores map[uint64]float64, covered *IDRange, aq *AnalyzedQuery, p *Policy) []*FusedResult {
	normalized := NormalizeKeywordScores(keywordScores)
	results := make([]*FusedResult, 0, len(hits))
	for i, h := range hits {
		r := &FusedResult{
			Hit:           h,
			SemanticScore: h.SimilarityScore,
			SemanticRank:  i + 1,
		}
		if covered != nil && covered.Contains(h.Entry.VectorID) {
			r.KeywordScore = normalized[h.Entry.VectorID]
			r.Score = p.SemanticWeight*r.SemanticScore + p.KeywordWeight*r.KeywordScore
			if aq != nil && aq.PhraseMatch(h.Entry.Text) {
				r.PhraseMatch = true
				r.Score = math.Min(1, math.Max(r.Score, r.SemanticScore)*p.PhraseBoost)
			}
		} else {
			r.Score = r.SemanticScore
		}
		results = append(results, r)
	}
	return results
}

// FilterByMinScore drops results scoring below minScore.
func FilterByMinScore(results []*FusedResult, minScore float64) []*FusedResult {
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// SortFused orders results by descending score, then by semantic rank.
func SortFused(results []*FusedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SemanticRank < results[j].SemanticRank
	})
}
