package retrieval

import (
	"regexp"
	"strings"

	"github.com/hyperjump/kensaku/pkg/utils"
)

var phraseRegex = regexp.MustCompile(`"([^"]+)"`)

// AnalyzedQuery is a query reduced to the forms fusion and confidence use.
type AnalyzedQuery struct {
	Original   string
	Normalized string
	// Terms are the unique normalized words of the query.
	Terms []string
	// Phrases are the normalized contents of double-quoted spans.
	Phrases []string
}

// AnalyzeQuery normalizes query and extracts its terms and quoted phrases.
func AnalyzeQuery(query string) *AnalyzedQuery {
	aq := &AnalyzedQuery{
		Original:   query,
		Normalized: utils.NormalizeText(query),
	}
	for _, match := range phraseRegex.FindAllStringSubmatch(query, -1) {
		if phrase := utils.NormalizeText(match[1]); phrase != "" {
			aq.Phrases = append(aq.Phrases, phrase)
		}
	}
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(aq.Normalized) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		aq.Terms = append(aq.Terms, w)
	}
	return aq
}

// PhraseMatch reports whether the whole query or any quoted phrase occurs in
// text as a run of whole words.
func (aq *AnalyzedQuery) PhraseMatch(text string) bool {
	if aq.Normalized == "" {
		return false
	}
	padded := " " + utils.NormalizeText(text) + " "
	if strings.Contains(padded, " "+aq.Normalized+" ") {
		return true
	}
	for _, p := range aq.Phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// TermOverlap returns the fraction of query terms present in text.
func (aq *AnalyzedQuery) TermOverlap(text string) float64 {
	if len(aq.Terms) == 0 {
		return 0
	}
	words := make(map[string]struct{})
	for _, w := range strings.Fields(utils.NormalizeText(text)) {
		words[w] = struct{}{}
	}
	matched := 0
	for _, t := range aq.Terms {
		if _, ok := words[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(aq.Terms))
}
