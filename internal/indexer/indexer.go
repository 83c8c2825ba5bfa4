// Package indexer turns extracted text chunks into stored, searchable vectors
// for a tenant.
package indexer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// ChunkEncoder embeds corpus text for a tenant.
type ChunkEncoder interface {
	Encode(ctx context.Context, texts []string, tenantID string) (*embedding.EncodeResult, error)
}

// StoreProvider returns the store of a tenant.
type StoreProvider interface {
	Store(ctx context.Context, tenantID string) (*vectorstore.TenantStore, error)
}

// CorpusNotifier is told when a tenant's corpus changes.
type CorpusNotifier interface {
	NotifyCorpusChanged(tenantID string)
}

// Indexer encodes chunks, appends them to the tenant store, and records the
// batch in the ledger.
type Indexer struct {
	encoder  ChunkEncoder
	stores   StoreProvider
	ledger   storage.Ledger
	notifier CorpusNotifier
	logger   *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (batch indexed, tenant cleared, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithLedger records every add and clear in ledger.
func WithLedger(ledger storage.Ledger) IndexerOption {
	return func(idx *Indexer) { idx.ledger = ledger }
}

// WithNotifier is told about every corpus change, typically the retriever.
func WithNotifier(n CorpusNotifier) IndexerOption {
	return func(idx *Indexer) { idx.notifier = n }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(encoder ChunkEncoder, stores StoreProvider, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		encoder: encoder,
		stores:  stores,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// IndexChunks embeds chunks and appends them to the tenant's store as one
// batch. An empty batchID is replaced by a generated one. If the store
// reports a persist failure the result is still returned with the error: the
// vectors are searchable but their durability is unknown.
func (idx *Indexer) IndexChunks(ctx context.Context, tenantID, batchID string, chunks []models.TextChunk) (*models.AddResult, error) {
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	prepared, err := prepareChunks(chunks)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeChunkInvalid, "invalid chunk", kerrors.FieldTenant(tenantID))
	}

	store, err := idx.stores.Store(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(prepared) == 0 {
		return store.Add(ctx, nil, nil, batchID)
	}

	texts := make([]string, len(prepared))
	for i, ch := range prepared {
		texts[i] = ch.Text
	}
	encoded, err := idx.encoder.Encode(ctx, texts, tenantID)
	if err != nil {
		return nil, err
	}

	result, addErr := store.Add(ctx, encoded.Vectors, prepared, batchID)
	if result == nil {
		return nil, addErr
	}
	if idx.notifier != nil {
		idx.notifier.NotifyCorpusChanged(tenantID)
	}
	idx.record(ctx, tenantID, func(l storage.Ledger) error { return l.RecordBatch(ctx, tenantID, result) })

	idx.logger.Debug("indexer batch indexed",
		zap.String("tenant_id", tenantID),
		zap.String("batch_id", result.BatchID),
		zap.Int("vectors_added", result.VectorsAdded),
		zap.Int("total_vectors", result.TotalVectors),
		zap.Int("cache_hits", encoded.Hits),
		zap.Int("cache_misses", encoded.Misses))
	return result, addErr
}

// Clear empties a tenant's store.
func (idx *Indexer) Clear(ctx context.Context, tenantID string) error {
	if err := vectorstore.ValidateTenantID(tenantID); err != nil {
		return err
	}
	store, err := idx.stores.Store(ctx, tenantID)
	if err != nil {
		return err
	}
	// A persist failure still leaves the store empty in memory.
	clearErr := store.Clear(ctx)
	if clearErr != nil && kerrors.KindOf(clearErr) != kerrors.KindStorageIO {
		return clearErr
	}
	if idx.notifier != nil {
		idx.notifier.NotifyCorpusChanged(tenantID)
	}
	idx.record(ctx, tenantID, func(l storage.Ledger) error { return l.RecordClear(ctx, tenantID) })
	idx.logger.Debug("indexer tenant cleared", zap.String("tenant_id", tenantID))
	return clearErr
}

// record writes a ledger event. Ledger failures are logged only; the vector
// store is the source of truth.
func (idx *Indexer) record(ctx context.Context, tenantID string, write func(storage.Ledger) error) {
	if idx.ledger == nil {
		return
	}
	if err := write(idx.ledger); err != nil {
		idx.logger.Warn("ingestion ledger write failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// prepareChunks normalizes chunk text and rejects chunks left empty.
func prepareChunks(chunks []models.TextChunk) ([]models.TextChunk, error) {
	prepared := make([]models.TextChunk, len(chunks))
	for i, ch := range chunks {
		ch.Text = Preprocess(ch.Text)
		if ch.Text == "" {
			return nil, fmt.Errorf("chunk %d has no text", i)
		}
		if ch.UpstreamConfidence != nil {
			v := *ch.UpstreamConfidence
			if v < 0 || v > 100 {
				return nil, fmt.Errorf("chunk %d upstream confidence %v out of range", i, v)
			}
		}
		ch.SourceMethod = strings.TrimSpace(ch.SourceMethod)
		prepared[i] = ch
	}
	return prepared, nil
}
