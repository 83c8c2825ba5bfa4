// Package storage records ingestion history and measures on-disk footprint.
package storage

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// Ledger records ingestion batches and clears per tenant. It is an audit
// trail; the vector store stays the source of truth.
type Ledger interface {
	RecordBatch(ctx context.Context, tenantID string, result *models.AddResult) error
	RecordClear(ctx context.Context, tenantID string) error
	// ListBatches returns a tenant's events, newest first.
	ListBatches(ctx context.Context, tenantID string, offset, limit int) ([]*models.BatchRecord, error)
	CountBatches(ctx context.Context, tenantID string) (int64, error)

	Close() error
}
