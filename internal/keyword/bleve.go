package keyword

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/pkg/utils"
)

const (
	textField      = "text"
	buildBatchSize = 500
)

// BleveIndex implements KeywordIndex with an in-memory Bleve index.
type BleveIndex struct {
	index bleve.Index
}

type document struct {
	Text string `json:"text"`
}

func newIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query term
	// matches the exact word it names.
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt(textField, textFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates an empty in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// BuildBleveIndex indexes the text of entries keyed by vector ID.
func BuildBleveIndex(ctx context.Context, entries []models.IndexEntry) (*BleveIndex, error) {
	b, err := NewBleveIndex()
	if err != nil {
		return nil, err
	}
	batch := b.index.NewBatch()
	for _, e := range entries {
		if err := batch.Index(docID(e.VectorID), document{Text: e.Text}); err != nil {
			b.Close()
			return nil, fmt.Errorf("index vector %d: %w", e.VectorID, err)
		}
		if batch.Size() >= buildBatchSize {
			if err := b.flush(ctx, batch); err != nil {
				return nil, err
			}
		}
	}
	if batch.Size() > 0 {
		if err := b.flush(ctx, batch); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *BleveIndex) flush(ctx context.Context, batch *bleve.Batch) error {
	if err := ctx.Err(); err != nil {
		b.Close()
		return err
	}
	if err := b.index.Batch(batch); err != nil {
		b.Close()
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	batch.Reset()
	return nil
}

// Score runs a match query restricted to ids. For multi-term queries the
// score is multiplied by the squared fraction of query terms the document
// contains, so documents matching every term rank above partial matches.
func (b *BleveIndex) Score(ctx context.Context, query string, ids []uint64) (map[uint64]float64, error) {
	scores := make(map[uint64]float64)
	terms := tokenizeQuery(query)
	if len(terms) == 0 || len(ids) == 0 {
		return scores, nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = docID(id)
	}

	match := bleve.NewMatchQuery(strings.Join(terms, " "))
	match.SetField(textField)
	hits, err := b.search(ctx, match, docIDs)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return scores, nil
	}

	var coverage map[uint64]int
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, docIDs)
	}
	for id, score := range hits {
		if coverage != nil {
			matched := coverage[id]
			if matched == 0 {
				matched = 1
			}
			ratio := float64(matched) / float64(len(terms))
			score *= ratio * ratio
		}
		scores[id] = score
	}
	return scores, nil
}

// search runs q AND docID IN docIDs. The ID filter carries no weight so
// scores come from q alone.
func (b *BleveIndex) search(ctx context.Context, q blevequery.Query, docIDs []string) (map[uint64]float64, error) {
	filter := bleve.NewDocIDQuery(docIDs)
	filter.SetBoost(0)
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(q, filter), len(docIDs), 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make(map[uint64]float64, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out[id] = hit.Score
	}
	return out, nil
}

// termCoverage counts how many query terms each candidate matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, docIDs []string) map[uint64]int {
	coverage := make(map[uint64]int)
	for _, term := range terms {
		q := bleve.NewMatchQuery(term)
		q.SetField(textField)
		hits, err := b.search(ctx, q, docIDs)
		if err != nil {
			continue
		}
		for id := range hits {
			coverage[id]++
		}
	}
	return coverage
}

// tokenizeQuery splits query into unique normalized terms.
func tokenizeQuery(query string) []string {
	words := strings.Fields(utils.NormalizeText(query))
	terms := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

func docID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
