// Package embedding turns text into vectors through a pluggable backend and a
// write-through cache.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations are not
// required to be safe for concurrent use; Encoder serializes access.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}

// QueryEmbedder is implemented by backends that embed queries differently
// from passages (for example with an instruction prefix).
type QueryEmbedder interface {
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)
}
