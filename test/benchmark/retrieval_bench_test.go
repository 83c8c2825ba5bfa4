package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/vector"
	"github.com/hyperjump/kensaku/internal/vectorstore"
)

func BenchmarkFuse(b *testing.B) {
	hits := make([]models.SearchHit, 100)
	kw := make(map[uint64]float64, 100)
	for i := range hits {
		hits[i] = models.SearchHit{
			Entry:           models.IndexEntry{VectorID: uint64(i), Text: fmt.Sprintf("chunk %d about invoices", i)},
			SimilarityScore: float64(100-i) / 100,
			Rank:            i + 1,
		}
		kw[uint64(i)] = float64(i) / 100
	}
	aq := retrieval.AnalyzeQuery("invoice total")
	policy := retrieval.DefaultPolicy()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fused := retrieval.Fuse(hits, retrieval.NormalizeKeywordScores(kw), &retrieval.AllIDs, aq, policy)
		retrieval.SortFused(fused)
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := vector.NewMemoryIndex(384)
	ctx := context.Background()
	vecs := make([][]float32, 1000)
	for i := 0; i < 1000; i++ {
		vecs[i] = make([]float32, 384)
		vecs[i][0] = float32(i) / 1000
		vecs[i][1] = 1
	}
	_, _ = idx.Add(ctx, vecs)
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10)
	}
}

func BenchmarkTenantStoreSearch(b *testing.B) {
	ctx := context.Background()
	mock := embedding.NewMockEmbedder(128)
	m, err := vectorstore.NewManager(b.TempDir(), vectorstore.StoreOptions{Dimensions: 128})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()
	store, err := m.Store(ctx, "bench")
	if err != nil {
		b.Fatal(err)
	}
	texts := make([]string, 500)
	chunks := make([]models.TextChunk, 500)
	for i := range texts {
		texts[i] = fmt.Sprintf("record %d invoice number %d for customer %d", i, i*13, i%17)
		chunks[i] = models.TextChunk{Text: texts[i]}
	}
	vecs, _ := mock.EmbedBatch(ctx, texts)
	if _, err := store.Add(ctx, vecs, chunks, ""); err != nil {
		b.Fatal(err)
	}
	query, _ := mock.Embed(ctx, "invoice for customer 3")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Search(ctx, query, 30)
	}
}

func BenchmarkBleveBuild(b *testing.B) {
	ctx := context.Background()
	entries := make([]models.IndexEntry, 200)
	for i := range entries {
		entries[i] = models.IndexEntry{VectorID: uint64(i), Text: fmt.Sprintf("invoice %d total amount due for order %d", i, i*3)}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx, err := keyword.BuildBleveIndex(ctx, entries)
		if err != nil {
			b.Fatal(err)
		}
		_ = idx.Close()
	}
}

func BenchmarkEncoder_CachedQuery(b *testing.B) {
	enc := embedding.NewEncoder(embedding.NewMockEmbedder(384))
	defer enc.Close()
	ctx := context.Background()
	_, _, _ = enc.EmbedQuery(ctx, "benchmark query text for embedding", "bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = enc.EmbedQuery(ctx, "benchmark query text for embedding", "bench")
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
