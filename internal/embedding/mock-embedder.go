package embedding

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/kensaku/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and local development.
// Each word maps to a fixed pseudo-random direction derived from its hash and a
// text embeds as the normalized sum of its words, so texts sharing words score
// as similar. It records calls so tests can assert on backend traffic.
type MockEmbedder struct {
	dimensions int
	modelID    string
	delay      time.Duration

	calls       atomic.Int64
	texts       atomic.Int64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu  sync.Mutex
	err error
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, modelID: "mock-embedder"}
}

// WithDelay makes every batch call sleep for d (or until its context ends).
func (e *MockEmbedder) WithDelay(d time.Duration) *MockEmbedder {
	e.delay = d
	return e
}

// SetError makes subsequent calls fail with err; nil restores normal behavior.
func (e *MockEmbedder) SetError(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

// Calls returns the number of batch calls made.
func (e *MockEmbedder) Calls() int64 { return e.calls.Load() }

// TextsEmbedded returns the number of texts embedded across all calls.
func (e *MockEmbedder) TextsEmbedded() int64 { return e.texts.Load() }

// MaxConcurrent returns the highest number of overlapping calls observed.
func (e *MockEmbedder) MaxConcurrent() int32 { return e.maxInFlight.Load() }

// Embed returns a deterministic embedding based on the hashes of the words in text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, e.dimensions)
	for _, word := range SplitWords(utils.NormalizeText(text)) {
		h := HashString(word)
		for i := 0; i < e.dimensions; i++ {
			emb[i] += float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch embeds each text in order.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		cur := e.maxInFlight.Load()
		if n <= cur || e.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	e.mu.Lock()
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.texts.Add(int64(len(texts)))
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID identifies the mock model in cache keys.
func (e *MockEmbedder) ModelID() string {
	return e.modelID
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
