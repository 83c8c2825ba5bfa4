// Package vector provides append-only similarity indexes over normalized vectors.
package vector

import (
	"context"
	"errors"
)

// ErrCorrupt is wrapped by Load when persisted index data fails validation.
var ErrCorrupt = errors.New("vector index corrupt")

// VectorIndex stores vectors under dense, monotonically increasing IDs. The
// vector at position i has ID BaseID()+i. IDs are never reused: Reset starts
// a new empty range at the given base.
type VectorIndex interface {
	// Add appends vectors and returns the ID assigned to the first one.
	Add(ctx context.Context, vectors [][]float32) (uint64, error)
	// Search returns up to k results by descending inner product, ties broken
	// by ascending ID.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Reset(baseID uint64)
	// Truncate keeps the first size vectors and drops the rest. BaseID is unchanged.
	Truncate(size int) error
	// Save persists the index under path using an atomic replace.
	Save(path string) error
	// Load replaces the contents from path. A missing file leaves the index unchanged.
	Load(path string) error
	Size() int
	BaseID() uint64
	NextID() uint64
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID    uint64
	Score float64 // Inner product; cosine similarity for normalized vectors.
}
