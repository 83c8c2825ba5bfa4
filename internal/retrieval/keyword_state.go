package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/keyword"
	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/models"
)

// KeywordState is the lifecycle state of a tenant's keyword index.
type KeywordState string

const (
	KeywordUninitialized KeywordState = "uninitialized"
	KeywordBuilding      KeywordState = "building"
	KeywordReady         KeywordState = "ready"
	// KeywordSemanticOnly means the last build failed; queries run
	// semantic-only until the corpus changes.
	KeywordSemanticOnly KeywordState = "semantic_only"
)

var errKeywordClosed = errors.New("keyword index closed")

// Corpus is the view of a tenant store the keyword builder needs.
type Corpus interface {
	Snapshot() ([]models.IndexEntry, uint64)
	Generation() uint64
}

// BuildFunc builds a keyword index over entries.
type BuildFunc func(ctx context.Context, entries []models.IndexEntry) (keyword.KeywordIndex, error)

// DefaultBuild builds an in-memory Bleve index.
func DefaultBuild(ctx context.Context, entries []models.IndexEntry) (keyword.KeywordIndex, error) {
	idx, err := keyword.BuildBleveIndex(ctx, entries)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// keywordHandle guards an index so it is closed only after in-flight
// scoring finishes. covers is the ID range the index was built over; vectors
// added later are unknown to it until the next build.
type keywordHandle struct {
	mu     sync.RWMutex
	index  keyword.KeywordIndex
	covers IDRange
	closed bool
}

func (h *keywordHandle) Score(ctx context.Context, query string, ids []uint64) (map[uint64]float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, errKeywordClosed
	}
	return h.index.Score(ctx, query, ids)
}

func (h *keywordHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	_ = h.index.Close()
}

// tenantKeyword is the keyword state of one tenant.
type tenantKeyword struct {
	mu         sync.Mutex
	state      KeywordState
	handle     *keywordHandle
	generation uint64
	// notified counts NotifyCorpusChanged calls; builtNotified is the count
	// the current index reflects.
	notified      uint64
	builtNotified uint64
	building      bool
	// firstDone is closed when the first build finishes.
	firstDone chan struct{}
}

func newTenantKeyword() *tenantKeyword {
	return &tenantKeyword{state: KeywordUninitialized, firstDone: make(chan struct{})}
}

// stale reports whether the index no longer reflects the corpus. Caller
// holds tk.mu.
func (tk *tenantKeyword) stale(generation uint64) bool {
	return tk.generation != generation || tk.builtNotified != tk.notified
}

// keywordState returns the state entry for tenantID, creating it if needed.
func (r *Retriever) keywordState(tenantID string) *tenantKeyword {
	r.kwMu.Lock()
	defer r.kwMu.Unlock()
	tk, ok := r.keyword[tenantID]
	if !ok {
		tk = newTenantKeyword()
		r.keyword[tenantID] = tk
	}
	return tk
}

// keywordIndex returns the index to score with, or nil for semantic-only.
// The first build for a tenant runs inline; later rebuilds run on the worker
// pool while the previous index keeps serving.
func (r *Retriever) keywordIndex(ctx context.Context, tenantID string, corpus Corpus) *keywordHandle {
	tk := r.keywordState(tenantID)
	generation := corpus.Generation()

	tk.mu.Lock()
	switch {
	case tk.state == KeywordUninitialized:
		tk.state = KeywordBuilding
		tk.building = true
		tk.mu.Unlock()
		r.buildKeyword(tenantID, corpus, tk)
		tk.mu.Lock()
	case tk.handle == nil && tk.building:
		// First build in progress elsewhere.
		done := tk.firstDone
		tk.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil
		}
		tk.mu.Lock()
	case !tk.building && tk.stale(generation):
		tk.building = true
		tk.state = KeywordBuilding
		if err := r.pool.Submit(func() { r.buildKeyword(tenantID, corpus, tk) }); err != nil {
			tk.building = false
			tk.state = stateFor(tk.handle)
			r.logger.Warn("keyword rebuild not scheduled", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	h := tk.handle
	tk.mu.Unlock()
	return h
}

func stateFor(h *keywordHandle) KeywordState {
	if h == nil {
		return KeywordSemanticOnly
	}
	return KeywordReady
}

// buildKeyword builds from a snapshot of corpus and installs the result. A
// failed build drops the index so queries run semantic-only.
func (r *Retriever) buildKeyword(tenantID string, corpus Corpus, tk *tenantKeyword) {
	tk.mu.Lock()
	notified := tk.notified
	tk.mu.Unlock()

	entries, generation := corpus.Snapshot()
	index, err := r.safeBuild(entries)

	tk.mu.Lock()
	old := tk.handle
	if err != nil {
		tk.handle = nil
		tk.state = KeywordSemanticOnly
		metrics.RecordKeywordBuild(false)
		r.logger.Warn("keyword index build failed, falling back to semantic-only",
			zap.String("tenant_id", tenantID),
			zap.Int("entries", len(entries)),
			zap.Error(err))
	} else {
		tk.handle = &keywordHandle{index: index, covers: RangeOf(entries)}
		tk.state = KeywordReady
		metrics.RecordKeywordBuild(true)
		r.logger.Debug("keyword index built",
			zap.String("tenant_id", tenantID),
			zap.Int("entries", len(entries)),
			zap.Uint64("generation", generation))
	}
	tk.generation = generation
	tk.builtNotified = notified
	tk.building = false
	select {
	case <-tk.firstDone:
	default:
		close(tk.firstDone)
	}
	tk.mu.Unlock()

	if old != nil {
		old.close()
	}
}

func (r *Retriever) safeBuild(entries []models.IndexEntry) (index keyword.KeywordIndex, err error) {
	defer func() {
		if p := recover(); p != nil {
			index, err = nil, fmt.Errorf("keyword build panicked: %v", p)
		}
	}()
	return r.build(r.ctx, entries)
}

// NotifyCorpusChanged marks the tenant's keyword index stale. The next query
// schedules a rebuild.
func (r *Retriever) NotifyCorpusChanged(tenantID string) {
	tk := r.keywordState(tenantID)
	tk.mu.Lock()
	tk.notified++
	tk.mu.Unlock()
}

// KeywordState returns the keyword index state of tenantID.
func (r *Retriever) KeywordState(tenantID string) KeywordState {
	r.kwMu.Lock()
	tk, ok := r.keyword[tenantID]
	r.kwMu.Unlock()
	if !ok {
		return KeywordUninitialized
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.state
}

// closeKeyword releases every keyword index.
func (r *Retriever) closeKeyword() {
	r.kwMu.Lock()
	defer r.kwMu.Unlock()
	for _, tk := range r.keyword {
		tk.mu.Lock()
		if tk.handle != nil {
			tk.handle.close()
			tk.handle = nil
		}
		tk.mu.Unlock()
	}
}
