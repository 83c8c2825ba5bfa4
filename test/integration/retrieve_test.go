// Package integration exercises ingestion and retrieval against real on-disk
// stores, the SQLite ledger, and the Badger embedding cache.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	"github.com/hyperjump/kensaku/internal/watcher"
)

const dims = 32

func TestIntegration_IngestRetrieveClear(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	mock := embedding.NewMockEmbedder(dims)
	disk, err := embedding.OpenBadgerCache(filepath.Join(dir, "cache"), nil)
	if err != nil {
		t.Fatal(err)
	}
	enc := embedding.NewEncoder(mock,
		embedding.WithCache(embedding.NewTieredCache(embedding.NewEmbeddingCache(100), disk)))
	defer enc.Close()

	stores, err := vectorstore.NewManager(filepath.Join(dir, "stores"), vectorstore.StoreOptions{Dimensions: dims})
	if err != nil {
		t.Fatal(err)
	}
	defer stores.Close()

	r, err := retrieval.NewRetriever(enc, stores, retrieval.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ledger, err := storage.NewSQLiteLedger(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	idx := indexer.NewIndexer(enc, stores, indexer.WithLedger(ledger), indexer.WithNotifier(r))

	if _, err := idx.IndexChunks(ctx, "acme", "b1", []models.TextChunk{
		{Text: "Machine learning algorithms learn from data."},
		{Text: "Semantic search uses embeddings to find similar content."},
	}); err != nil {
		t.Fatal(err)
	}

	resp := r.Retrieve(ctx, models.RetrieveQuery{Query: "machine learning", TenantID: "acme", MaxResults: 5})
	if !resp.Success {
		t.Fatalf("retrieve failed: %s", resp.Error)
	}
	if resp.TotalResults < 1 || resp.Documents[0].Text != "Machine learning algorithms learn from data." {
		t.Errorf("unexpected results %+v", resp.Documents)
	}

	callsBefore := mock.Calls()
	if _, err := idx.IndexChunks(ctx, "acme", "b2", []models.TextChunk{
		{Text: "Machine learning algorithms learn from data."},
	}); err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != callsBefore {
		t.Error("re-ingesting cached text should not call the embedder")
	}

	if err := idx.Clear(ctx, "acme"); err != nil {
		t.Fatal(err)
	}
	resp = r.Retrieve(ctx, models.RetrieveQuery{Query: "machine learning", TenantID: "acme"})
	if !resp.Success || resp.TotalResults != 0 {
		t.Errorf("expected empty success after clear, got %+v", resp)
	}

	n, err := ledger.CountBatches(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("ledger has %d records, want 3 (two adds and a clear)", n)
	}
}

func TestIntegration_PolicyHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(content string) {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write("embedding:\n  backend: mock\n  dimensions: 32\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	policy, err := retrieval.NewPolicy(cfg.Retrieval, cfg.Confidence)
	if err != nil {
		t.Fatal(err)
	}
	enc := embedding.NewEncoder(embedding.NewMockEmbedder(dims))
	defer enc.Close()
	stores, err := vectorstore.NewManager(filepath.Join(dir, "stores"), vectorstore.StoreOptions{Dimensions: dims})
	if err != nil {
		t.Fatal(err)
	}
	defer stores.Close()
	r, err := retrieval.NewRetriever(enc, stores, retrieval.Options{Policy: policy})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	w := watcher.NewPolicyReloader(r, nil).Watch(path, watcher.WithDebounce(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	write("embedding:\n  backend: mock\n  dimensions: 32\nretrieval:\n  semantic_weight: 0.5\n  keyword_weight: 0.5\n  min_score: 0.2\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p := r.Policy(); p.SemanticWeight == 0.5 && p.MinScore == 0.2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("policy not reloaded: %+v", r.Policy())
}
