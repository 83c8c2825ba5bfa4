// Package keyword scores tenant text against a query by term relevance.
package keyword

import "context"

// KeywordIndex scores indexed documents for a query. Documents are keyed by
// vector ID, the same ID the vector store assigns.
type KeywordIndex interface {
	// Score returns a relevance score for each of ids that matches query.
	// IDs that do not match are absent from the map.
	Score(ctx context.Context, query string, ids []uint64) (map[uint64]float64, error)
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
	Close() error
}
