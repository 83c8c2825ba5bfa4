package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

// Components holds initialized services.
type Components struct {
	Encoder   *embedding.Encoder
	Stores    *vectorstore.Manager
	Retriever *retrieval.Retriever
	Ledger    *storage.SQLiteLedger
	Indexer   *indexer.Indexer
}

// Close releases components in reverse dependency order. Stores persist
// pending changes on close.
func (c *Components) Close() {
	if c.Retriever != nil {
		_ = c.Retriever.Close()
	}
	if c.Stores != nil {
		_ = c.Stores.Close()
	}
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
	if c.Encoder != nil {
		_ = c.Encoder.Close()
	}
}

func newCache(cfg *config.Config, logger *zap.Logger) (embedding.Cache, error) {
	memory := embedding.NewEmbeddingCache(cfg.Embedding.CacheSize, embedding.WithShards(cfg.Embedding.CacheShards))
	if cfg.Storage.CachePath == "" {
		return memory, nil
	}
	disk, err := embedding.OpenBadgerCache(cfg.Storage.CachePath, logger)
	if err != nil {
		return nil, err
	}
	return embedding.NewTieredCache(memory, disk), nil
}

// verifyEmbedder embeds one sentence through the backend, skipping the
// encoder cache, so a missing model or unreachable endpoint fails startup.
func verifyEmbedder(backend embedding.Embedder, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	vec, err := backend.Embed(ctx, "startup check")
	if err != nil {
		return kerrors.Wrap(err, kerrors.CodeModelUnavailable, "embedding backend is not ready")
	}
	if len(vec) != backend.Dimensions() {
		return kerrors.Errorf(kerrors.CodeModelUnavailable,
			"embedding backend returned %d dimensions, configured %d", len(vec), backend.Dimensions())
	}
	return nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	backend, err := embedding.NewEmbedder(embedding.Options{
		Backend:           cfg.Embedding.Backend,
		ModelID:           cfg.Embedding.ModelID,
		ModelPath:         cfg.Embedding.ModelPath,
		Dimensions:        cfg.Embedding.Dimensions,
		MaxTokens:         cfg.Embedding.MaxTokens,
		BatchSize:         cfg.Embedding.BatchSize,
		RemoteURL:         cfg.Embedding.RemoteURL,
		RemoteToken:       cfg.Embedding.RemoteToken,
		RateLimit:         cfg.Embedding.RateLimit,
		FastEmbedCacheDir: cfg.Embedding.FastEmbedCacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if err := verifyEmbedder(backend, cfg.Embedding.CallTimeout); err != nil {
		_ = backend.Close()
		return nil, err
	}
	cache, err := newCache(cfg, logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	c.Encoder = embedding.NewEncoder(backend,
		embedding.WithCache(cache),
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithTTL(cfg.Embedding.CorpusTTL, cfg.Embedding.QueryTTL),
		embedding.WithCallTimeout(cfg.Embedding.CallTimeout),
		embedding.WithLogger(logger),
	)
	logger.Info("embedder initialized",
		zap.String("backend", cfg.Embedding.Backend),
		zap.String("model", backend.ModelID()),
		zap.Int("dimensions", backend.Dimensions()),
		zap.Bool("persistent_cache", cfg.Storage.CachePath != ""))

	c.Stores, err = vectorstore.NewManager(cfg.Storage.DataDir, vectorstore.StoreOptions{
		Dimensions: backend.Dimensions(),
		IndexType:  cfg.VectorStore.IndexType,
		IOTimeout:  cfg.VectorStore.IOTimeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	policy, err := retrieval.NewPolicy(cfg.Retrieval, cfg.Confidence)
	if err != nil {
		return nil, err
	}
	c.Retriever, err = retrieval.NewRetriever(c.Encoder, c.Stores, retrieval.Options{
		Policy:         policy,
		KeywordWorkers: cfg.Retrieval.KeywordWorkers,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	c.Ledger, err = storage.NewSQLiteLedger(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingestion ledger: %w", err)
	}

	c.Indexer = indexer.NewIndexer(c.Encoder, c.Stores,
		indexer.WithLedger(c.Ledger),
		indexer.WithNotifier(c.Retriever),
		indexer.WithLogger(logger),
	)
	return c, nil
}
