package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensaku/internal/models"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestion_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		batch_id TEXT,
		event TEXT NOT NULL,
		vectors_added INTEGER NOT NULL DEFAULT 0,
		total_vectors INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_tenant_created ON ingestion_batches(tenant_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteLedger) insert(ctx context.Context, rec *models.BatchRecord) error {
	rec.CreatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_batches (tenant_id, batch_id, event, vectors_added, total_vectors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TenantID, rec.BatchID, rec.Event, rec.VectorsAdded, rec.TotalVectors, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s for tenant %s: %w", rec.Event, rec.TenantID, err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// RecordBatch appends an add event.
func (s *SQLiteLedger) RecordBatch(ctx context.Context, tenantID string, result *models.AddResult) error {
	if result == nil {
		return fmt.Errorf("nil add result for tenant %s", tenantID)
	}
	return s.insert(ctx, &models.BatchRecord{
		TenantID:     tenantID,
		BatchID:      result.BatchID,
		Event:        models.BatchEventAdd,
		VectorsAdded: result.VectorsAdded,
		TotalVectors: result.TotalVectors,
	})
}

// RecordClear appends a clear event.
func (s *SQLiteLedger) RecordClear(ctx context.Context, tenantID string) error {
	return s.insert(ctx, &models.BatchRecord{TenantID: tenantID, Event: models.BatchEventClear})
}

// ListBatches returns a tenant's events, newest first.
func (s *SQLiteLedger) ListBatches(ctx context.Context, tenantID string, offset, limit int) ([]*models.BatchRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, batch_id, event, vectors_added, total_vectors, created_at
		 FROM ingestion_batches WHERE tenant_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*models.BatchRecord{}
	for rows.Next() {
		var rec models.BatchRecord
		var batchID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TenantID, &batchID, &rec.Event, &rec.VectorsAdded, &rec.TotalVectors, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.BatchID = batchID.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CountBatches returns the number of events recorded for a tenant.
func (s *SQLiteLedger) CountBatches(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_batches WHERE tenant_id = ?`, tenantID).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

var _ Ledger = (*SQLiteLedger)(nil)
