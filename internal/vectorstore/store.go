// Package vectorstore keeps one persistent, append-only similarity index per
// tenant together with the metadata records its vectors point at.
package vectorstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vector"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/hyperjump/kensaku/pkg/utils"
)

const (
	indexFileBase    = "index"
	metadataFileName = "metadata.json"
	quarantineDir    = ".quarantine"
	metadataVersion  = 1

	// DefaultIOTimeout bounds a single persist when no timeout is configured.
	DefaultIOTimeout = 30 * time.Second
)

// StoreOptions configures every tenant store opened by a Manager.
type StoreOptions struct {
	Dimensions int
	IndexType  string
	IOTimeout  time.Duration
	Logger     *zap.Logger
}

// metadataFile is the on-disk form of the metadata array. Record i has
// VectorID == BaseID + i.
type metadataFile struct {
	Version    int                 `json:"version"`
	Dimensions int                 `json:"dimensions"`
	BaseID     uint64              `json:"base_id"`
	Entries    []models.IndexEntry `json:"entries"`
}

// Health describes the state of one tenant store.
type Health struct {
	TenantID   string `json:"tenant_id"`
	Loaded     bool   `json:"loaded"`
	Vectors    int    `json:"vectors"`
	Metadata   int    `json:"metadata"`
	Consistent bool   `json:"consistent"`
	Dirty      bool   `json:"dirty"`
	NextID     uint64 `json:"next_vector_id"`
	Generation uint64 `json:"generation"`
	Recovered  bool   `json:"recovered_from_corruption,omitempty"`
	IndexType  string `json:"index_type"`
	LastError  string `json:"last_persist_error,omitempty"`
}

// Healthy reports whether the store can serve searches with consistent results.
func (h Health) Healthy() bool {
	return h.Loaded && h.Consistent
}

// TenantStore is the similarity index and metadata array of one tenant.
// Search runs concurrently; Add and Clear are exclusive.
type TenantStore struct {
	tenantID  string
	dir       string
	opts      StoreOptions
	logger    *zap.Logger
	now       func() time.Time
	recovered bool

	mu         sync.RWMutex
	index      vector.VectorIndex
	entries    []models.IndexEntry
	generation uint64

	// persistMu serializes disk writes. persisted is the generation last
	// written successfully and only moves forward.
	persistMu sync.Mutex
	persisted uint64

	dirty     atomic.Bool
	lastError atomic.Value
}

// OpenTenantStore loads the store in dir, creating it if absent. A corrupt
// store is quarantined and replaced with an empty one.
func OpenTenantStore(tenantID, dir string, opts StoreOptions) (*TenantStore, error) {
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = DefaultIOTimeout
	}
	logger := utils.TenantLogger(opts.Logger, tenantID)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "create tenant directory", kerrors.FieldTenant(tenantID))
	}
	index, err := vector.NewVectorIndex(opts.IndexType, opts.Dimensions)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "create vector index", kerrors.FieldTenant(tenantID))
	}

	s := &TenantStore{
		tenantID: tenantID,
		dir:      dir,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		index:    index,
	}

	repaired, err := s.load()
	if err != nil {
		if !stderrors.Is(err, vector.ErrCorrupt) {
			index.Close()
			return nil, kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "load tenant store", kerrors.FieldTenant(tenantID))
		}
		if qerr := s.quarantine(err); qerr != nil {
			index.Close()
			return nil, qerr
		}
	}
	if repaired {
		// A failed rewrite leaves the store dirty; the files still reconcile on the next open.
		_ = s.persist(context.Background())
	}

	metrics.StoreVectors.WithLabelValues(tenantID).Set(float64(len(s.entries)))
	logger.Debug("tenant store opened",
		zap.Int("vectors", len(s.entries)),
		zap.Uint64("next_vector_id", s.index.NextID()),
		zap.Bool("recovered", s.recovered))
	return s, nil
}

func (s *TenantStore) indexPath() string {
	return filepath.Join(s.dir, indexFileBase)
}

func (s *TenantStore) metadataPath() string {
	return filepath.Join(s.dir, metadataFileName)
}

// load reads the index and metadata files. Inconsistent files wrap
// vector.ErrCorrupt. It reports whether the pair had to be reconciled and
// should be rewritten.
func (s *TenantStore) load() (bool, error) {
	if err := s.index.Load(s.indexPath()); err != nil {
		return false, err
	}

	meta := metadataFile{Dimensions: s.opts.Dimensions, BaseID: s.index.BaseID()}
	data, err := os.ReadFile(s.metadataPath())
	switch {
	case os.IsNotExist(err):
		if s.index.Size() == 0 {
			return false, nil
		}
	case err != nil:
		return false, fmt.Errorf("read metadata: %w", err)
	default:
		if err := json.Unmarshal(data, &meta); err != nil {
			return false, fmt.Errorf("%w: decode metadata: %v", vector.ErrCorrupt, err)
		}
	}
	if meta.Dimensions != s.opts.Dimensions {
		return false, fmt.Errorf("%w: metadata dimension %d, store expects %d", vector.ErrCorrupt, meta.Dimensions, s.opts.Dimensions)
	}
	for i := range meta.Entries {
		if meta.Entries[i].VectorID != meta.BaseID+uint64(i) {
			return false, fmt.Errorf("%w: record %d has vector id %d", vector.ErrCorrupt, i, meta.Entries[i].VectorID)
		}
	}
	repaired, err := s.reconcile(&meta)
	if err != nil {
		return false, err
	}

	s.entries = meta.Entries
	s.generation = 1
	s.persisted = 1
	if repaired {
		s.persisted = 0
	}
	return repaired, nil
}

// reconcile lines the index up with the metadata after a crash between the
// two file replacements. The index file is written first, so it may run ahead
// of the metadata but never behind it.
func (s *TenantStore) reconcile(meta *metadataFile) (bool, error) {
	size, base := s.index.Size(), s.index.BaseID()
	n := len(meta.Entries)
	switch {
	case base == meta.BaseID && size == n:
		return false, nil
	case base == meta.BaseID && size > n:
		if err := s.index.Truncate(n); err != nil {
			return false, fmt.Errorf("%w: trim index: %v", vector.ErrCorrupt, err)
		}
		s.recovered = true
		metrics.DroppedVectors.Add(float64(size - n))
		s.logger.Error("index ran ahead of metadata, unacknowledged vectors discarded",
			zap.Int("dropped", size-n),
			zap.Uint64("first_dropped_id", base+uint64(n)),
			zap.Int("kept", n))
		return true, nil
	case size == 0 && base == meta.BaseID+uint64(n):
		s.logger.Warn("completing clear interrupted before metadata was written", zap.Int("removed", n))
		meta.BaseID = base
		meta.Entries = nil
		return true, nil
	default:
		return false, fmt.Errorf("%w: index has %d vectors from id %d, metadata has %d records from id %d",
			vector.ErrCorrupt, size, base, n, meta.BaseID)
	}
}

// quarantine moves the store files aside and starts from an empty store.
func (s *TenantStore) quarantine(cause error) error {
	dest := filepath.Join(s.dir, quarantineDir, s.now().UTC().Format("20060102T150405.000000000Z"))
	if err := os.MkdirAll(dest, 0755); err != nil {
		return kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "create quarantine directory", kerrors.FieldTenant(s.tenantID))
	}

	names, _ := filepath.Glob(s.indexPath() + ".*")
	names = append(names, s.metadataPath())
	var moved []string
	for _, name := range names {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := os.Rename(name, filepath.Join(dest, filepath.Base(name))); err != nil {
			return kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "quarantine tenant store", kerrors.FieldTenant(s.tenantID))
		}
		moved = append(moved, filepath.Base(name))
	}

	s.index.Reset(0)
	s.entries = nil
	s.generation = 0
	s.persisted = 0
	s.recovered = true

	metrics.CorruptRecoveries.Inc()
	s.logger.Error("tenant store corrupt, data discarded and store reset to empty",
		zap.Error(kerrors.Wrap(cause, kerrors.CodeIndexCorrupt, "load tenant store")),
		zap.String("quarantine_dir", dest),
		zap.Strings("files", moved))
	return nil
}

// TenantID returns the tenant this store belongs to.
func (s *TenantStore) TenantID() string {
	return s.tenantID
}

// Dimensions returns the fixed vector dimension.
func (s *TenantStore) Dimensions() int {
	return s.opts.Dimensions
}

// Add normalizes vectors and appends them with their chunks, then persists.
// When persisting fails the vectors stay in memory, the store is marked dirty,
// and the result is returned together with a storage error.
func (s *TenantStore) Add(ctx context.Context, vectors [][]float32, chunks []models.TextChunk, batchID string) (*models.AddResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, kerrors.New(kerrors.CodeVectorInvalid,
			fmt.Sprintf("got %d vectors for %d chunks", len(vectors), len(chunks)),
			kerrors.FieldTenant(s.tenantID))
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		n, err := s.normalize(v)
		if err != nil {
			return nil, kerrors.Wrap(err, kerrors.CodeVectorInvalid, fmt.Sprintf("vector %d", i), kerrors.FieldTenant(s.tenantID))
		}
		normalized[i] = n
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}
	if len(vectors) == 0 {
		return &models.AddResult{TotalVectors: s.Count(), BatchID: batchID}, nil
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.index == nil {
		s.mu.Unlock()
		return nil, s.closedError()
	}
	first, err := s.index.Add(ctx, normalized)
	if err != nil {
		s.mu.Unlock()
		return nil, kerrors.Wrap(err, kerrors.CodeInternal, "append to vector index", kerrors.FieldTenant(s.tenantID))
	}
	addedAt := s.now().UTC()
	for i, chunk := range chunks {
		s.entries = append(s.entries, models.NewIndexEntry(first+uint64(i), s.tenantID, batchID, chunk, addedAt))
	}
	s.generation++
	total := len(s.entries)
	s.mu.Unlock()

	metrics.StoreVectors.WithLabelValues(s.tenantID).Set(float64(total))
	result := &models.AddResult{VectorsAdded: len(vectors), TotalVectors: total, BatchID: batchID}
	if err := s.persist(ctx); err != nil {
		return result, err
	}
	s.logger.Debug("vectors added",
		zap.String("batch_id", batchID),
		zap.Int("added", len(vectors)),
		zap.Int("total", total))
	return result, nil
}

func (s *TenantStore) closedError() error {
	return kerrors.New(kerrors.CodeIndexUnavailable, "tenant store is closed", kerrors.FieldTenant(s.tenantID))
}

func (s *TenantStore) normalize(v []float32) ([]float32, error) {
	if len(v) != s.opts.Dimensions {
		return nil, fmt.Errorf("dimension mismatch: got %d, expected %d", len(v), s.opts.Dimensions)
	}
	if !utils.AllFinite(v) {
		return nil, fmt.Errorf("vector contains non-finite values")
	}
	n := utils.NormalizedCopy(v)
	if vector.L2Norm(n) == 0 {
		return nil, fmt.Errorf("zero vector cannot be normalized")
	}
	return n, nil
}

// Search returns the k entries most similar to query, best first. Ties are
// broken by ascending vector ID. An empty store yields an empty slice.
func (s *TenantStore) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := s.normalize(query)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeVectorInvalid, "query vector", kerrors.FieldTenant(s.tenantID))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.index == nil {
		return nil, s.closedError()
	}
	if k <= 0 || len(s.entries) == 0 {
		return []models.SearchHit{}, nil
	}
	if k > len(s.entries) {
		k = len(s.entries)
	}

	results, err := s.index.Search(ctx, q, k)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.CodeIndexUnavailable, "search vector index", kerrors.FieldTenant(s.tenantID))
	}
	base := s.index.BaseID()
	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		pos := r.ID - base
		if r.ID < base || pos >= uint64(len(s.entries)) {
			return nil, kerrors.New(kerrors.CodeIndexUnavailable,
				fmt.Sprintf("index returned unknown vector id %d", r.ID),
				kerrors.FieldTenant(s.tenantID))
		}
		hits = append(hits, models.SearchHit{
			Entry:           s.entries[pos],
			SimilarityScore: r.Score,
			Rank:            len(hits) + 1,
		})
	}
	return hits, nil
}

// Clear removes every vector and record and persists the empty store. IDs
// keep counting from where they were.
func (s *TenantStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.index == nil {
		s.mu.Unlock()
		return s.closedError()
	}
	removed := len(s.entries)
	s.index.Reset(s.index.NextID())
	s.entries = nil
	s.generation++
	s.mu.Unlock()

	metrics.StoreVectors.WithLabelValues(s.tenantID).Set(0)
	s.logger.Info("tenant store cleared", zap.Int("removed", removed))
	return s.persist(ctx)
}

// Persist writes the current state if it has not been written yet. Use it to
// retry after a storage error.
func (s *TenantStore) Persist(ctx context.Context) error {
	return s.persist(ctx)
}

// persist writes the store under the I/O timeout. On timeout the write keeps
// running in the background and the store stays dirty until it lands.
func (s *TenantStore) persist(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.writeLatest()
	}()

	timer := time.NewTimer(s.opts.IOTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			s.markDirty(err)
			return kerrors.Wrap(err, kerrors.CodeStorageIO, "persist tenant store", kerrors.FieldTenant(s.tenantID))
		}
		return nil
	case <-timer.C:
		err := fmt.Errorf("persist exceeded %s", s.opts.IOTimeout)
		s.markDirty(err)
		return kerrors.Wrap(err, kerrors.CodeStorageTimeout, "persist tenant store", kerrors.FieldTenant(s.tenantID))
	case <-ctx.Done():
		s.markDirty(ctx.Err())
		return kerrors.Wrap(ctx.Err(), kerrors.CodeStorageTimeout, "persist tenant store", kerrors.FieldTenant(s.tenantID))
	}
}

// writeLatest writes the live state unless a newer or equal generation is
// already on disk. Holding the read lock keeps index and metadata consistent.
func (s *TenantStore) writeLatest() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return fmt.Errorf("store is closed")
	}
	if s.generation <= s.persisted && !s.dirty.Load() {
		return nil
	}

	if err := s.index.Save(s.indexPath()); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	meta := metadataFile{
		Version:    metadataVersion,
		Dimensions: s.opts.Dimensions,
		BaseID:     s.index.BaseID(),
		Entries:    s.entries,
	}
	if meta.Entries == nil {
		meta.Entries = []models.IndexEntry{}
	}
	err := utils.WriteFileAtomic(s.metadataPath(), 0644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(meta)
	})
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}

	s.persisted = s.generation
	if s.dirty.Swap(false) {
		s.logger.Info("tenant store persisted after earlier failure", zap.Uint64("generation", s.generation))
	}
	s.lastError.Store("")
	return nil
}

func (s *TenantStore) markDirty(err error) {
	s.dirty.Store(true)
	s.lastError.Store(err.Error())
	metrics.PersistFailures.Inc()
	s.logger.Error("tenant store persist failed, durability unknown", zap.Error(err))
}

// HealthCheck reports whether index and metadata agree and whether the last
// persist failed.
func (s *TenantStore) HealthCheck() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{
		TenantID:   s.tenantID,
		Loaded:     s.index != nil,
		Metadata:   len(s.entries),
		Dirty:      s.dirty.Load(),
		Generation: s.generation,
		Recovered:  s.recovered,
		IndexType:  s.opts.IndexType,
	}
	if h.IndexType == "" {
		h.IndexType = string(vector.IndexTypeMemory)
	}
	if s.index != nil {
		h.Vectors = s.index.Size()
		h.NextID = s.index.NextID()
		h.Consistent = h.Vectors == h.Metadata
	}
	if v, ok := s.lastError.Load().(string); ok {
		h.LastError = v
	}
	return h
}

// Snapshot returns a copy of the metadata records and the generation they
// belong to.
func (s *TenantStore) Snapshot() ([]models.IndexEntry, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IndexEntry, len(s.entries))
	copy(out, s.entries)
	return out, s.generation
}

// Generation changes on every Add and Clear.
func (s *TenantStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Count returns the number of stored vectors.
func (s *TenantStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dirty reports whether the in-memory state may not be on disk.
func (s *TenantStore) Dirty() bool {
	return s.dirty.Load()
}

// Close releases the index.
func (s *TenantStore) Close() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}
