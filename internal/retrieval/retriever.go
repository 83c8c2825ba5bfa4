// Package retrieval ranks a tenant's stored text for a query by fusing
// semantic similarity with keyword relevance, then scores each result's
// confidence.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// DefaultKeywordWorkers is the rebuild pool size when none is configured.
const DefaultKeywordWorkers = 2

// QueryEncoder embeds a query for a tenant.
type QueryEncoder interface {
	EmbedQuery(ctx context.Context, text, tenantID string) ([]float32, bool, error)
}

// StoreProvider returns the store of a tenant.
type StoreProvider interface {
	Store(ctx context.Context, tenantID string) (*vectorstore.TenantStore, error)
}

// Options configures a Retriever.
type Options struct {
	Policy *Policy
	// KeywordWorkers bounds concurrent background keyword rebuilds.
	KeywordWorkers int
	// Build overrides the keyword index builder.
	Build  BuildFunc
	Logger *zap.Logger
}

// Retriever answers retrieval queries for every tenant.
type Retriever struct {
	encoder QueryEncoder
	stores  StoreProvider
	policy  atomic.Pointer[Policy]
	build   BuildFunc
	pool    *ants.Pool
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	kwMu    sync.Mutex
	keyword map[string]*tenantKeyword
}

// NewRetriever creates a Retriever. A nil policy means DefaultPolicy.
func NewRetriever(encoder QueryEncoder, stores StoreProvider, opts Options) (*Retriever, error) {
	workers := opts.KeywordWorkers
	if workers <= 0 {
		workers = DefaultKeywordWorkers
	}
	logger := utils.OrNop(opts.Logger)
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		logger.Error("keyword rebuild panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("create keyword worker pool: %w", err)
	}

	r := &Retriever{
		encoder: encoder,
		stores:  stores,
		build:   opts.Build,
		pool:    pool,
		logger:  logger,
		keyword: make(map[string]*tenantKeyword),
	}
	if r.build == nil {
		r.build = DefaultBuild
	}
	policy := opts.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	r.policy.Store(policy)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// Policy returns the policy in effect.
func (r *Retriever) Policy() *Policy {
	return r.policy.Load()
}

// SetPolicy replaces the policy for subsequent queries.
func (r *Retriever) SetPolicy(p *Policy) {
	if p == nil {
		return
	}
	r.policy.Store(p)
	r.logger.Info("retrieval policy updated",
		zap.Float64("semantic_weight", p.SemanticWeight),
		zap.Float64("keyword_weight", p.KeywordWeight),
		zap.Float64("phrase_boost", p.PhraseBoost),
		zap.Float64("min_score", p.MinScore),
		zap.Bool("keyword_enabled", p.KeywordEnabled))
}

// Retrieve runs a query for one tenant. Failures are reported in the
// response, never as a Go error.
func (r *Retriever) Retrieve(ctx context.Context, q models.RetrieveQuery) *models.RetrieveResponse {
	start := time.Now()
	policy := r.policy.Load()
	resp := &models.RetrieveResponse{
		Query:     q.Query,
		TenantID:  q.TenantID,
		Documents: []*models.RetrievedDocument{},
	}

	if err := q.Validate(policy.Limits()); err != nil {
		return r.fail(resp, err)
	}
	if err := vectorstore.ValidateTenantID(q.TenantID); err != nil {
		return r.fail(resp, err)
	}
	resp.Query = q.Query

	queryVec, cached, err := r.encoder.EmbedQuery(ctx, q.Query, q.TenantID)
	if err != nil {
		return r.fail(resp, err)
	}

	store, err := r.stores.Store(ctx, q.TenantID)
	if err != nil {
		return r.unavailable(resp, err, start)
	}
	hits, err := store.Search(ctx, queryVec, q.MaxResults*policy.ExpansionFactor)
	if err != nil {
		return r.unavailable(resp, err, start)
	}

	method := models.SearchMethodSemantic
	var keywordScores map[uint64]float64
	var covered *IDRange
	if policy.KeywordEnabled && len(hits) > 0 {
		if h := r.keywordIndex(ctx, q.TenantID, store); h != nil {
			ids := make([]uint64, 0, len(hits))
			for _, hit := range hits {
				if h.covers.Contains(hit.Entry.VectorID) {
					ids = append(ids, hit.Entry.VectorID)
				}
			}
			if len(ids) == 0 {
				r.logger.Debug("keyword index does not cover any candidate yet, using semantic scores",
					zap.String("tenant_id", q.TenantID))
			} else if scores, err := h.Score(ctx, q.Query, ids); err != nil {
				r.logger.Warn("keyword scoring failed, using semantic scores only",
					zap.String("tenant_id", q.TenantID), zap.Error(err))
			} else {
				keywordScores = scores
				covered = &h.covers
				method = models.SearchMethodHybrid
			}
		}
	}

	aq := AnalyzeQuery(q.Query)
	fused := Fuse(hits, keywordScores, covered, aq, policy)
	fused = FilterByMinScore(fused, policy.MinScore)
	SortFused(fused)
	if len(fused) > q.MaxResults {
		fused = fused[:q.MaxResults]
	}

	for i, f := range fused {
		resp.Documents = append(resp.Documents, r.document(f, i+1, aq, policy, q.TenantID))
	}
	resp.Success = true
	resp.SearchMethod = method
	resp.TotalResults = len(resp.Documents)
	resp.QueryTime = time.Since(start).Milliseconds()

	metrics.RetrievalDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	r.logger.Debug("retrieval complete",
		zap.String("tenant_id", q.TenantID),
		zap.String("search_method", method),
		zap.Bool("query_cached", cached),
		zap.Int("candidates", len(hits)),
		zap.Int("results", resp.TotalResults),
		zap.Duration("duration", time.Since(start)))
	return resp
}

// document builds the response entry for one fused result, computing its
// confidence and falling back to the raw similarity if that fails.
func (r *Retriever) document(f *FusedResult, rank int, aq *AnalyzedQuery, policy *Policy, tenantID string) *models.RetrievedDocument {
	entry := &f.Hit.Entry
	factors := ComputeFactors(entry, f.Score, aq, &policy.Confidence)
	confidence, err := Confidence(factors, &policy.Confidence)
	if err != nil {
		confidence = FallbackConfidence(f.SemanticScore, &policy.Confidence)
		metrics.ConfidenceFallbacks.Inc()
		r.logger.Warn("confidence computation failed, using similarity",
			zap.String("tenant_id", tenantID),
			zap.Uint64("vector_id", entry.VectorID),
			zap.Error(err))
	}
	return &models.RetrievedDocument{
		VectorID:        entry.VectorID,
		Text:            entry.Text,
		Page:            entry.Page,
		BatchID:         entry.BatchID,
		SourceMethod:    entry.SourceMethod,
		SimilarityScore: f.SemanticScore,
		KeywordScore:    f.KeywordScore,
		HybridScore:     f.Score,
		PhraseMatch:     f.PhraseMatch,
		Confidence:      confidence,
		RelevanceRank:   rank,
	}
}

func (r *Retriever) fail(resp *models.RetrieveResponse, err error) *models.RetrieveResponse {
	err = kerrors.FromContext(err)
	kind := kerrors.KindOf(err)
	resp.Success = false
	resp.Error = err.Error()
	resp.ErrorKind = string(kind)
	resp.ErrorCode = string(kerrors.CodeOf(err))
	resp.Retryable = kerrors.IsRetryable(err)
	metrics.RetrievalErrors.WithLabelValues(string(kind)).Inc()

	if kerrors.IsInvalidInput(err) {
		r.logger.Debug("retrieval rejected", zap.String("tenant_id", resp.TenantID), zap.Error(err))
	} else {
		r.logger.Warn("retrieval failed", zap.String("tenant_id", resp.TenantID), zap.Error(err))
	}
	return resp
}

// unavailable turns a store failure into an empty successful response. Input
// errors and cancellation still fail the request.
func (r *Retriever) unavailable(resp *models.RetrieveResponse, err error, start time.Time) *models.RetrieveResponse {
	if kerrors.IsInvalidInput(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return r.fail(resp, err)
	}
	metrics.RetrievalErrors.WithLabelValues(string(kerrors.KindIndexUnavailable)).Inc()
	r.logger.Warn("vector store unavailable, returning no results",
		zap.String("tenant_id", resp.TenantID), zap.Error(err))
	resp.Success = true
	resp.SearchMethod = models.SearchMethodSemantic
	resp.Warning = "vector store unavailable: " + err.Error()
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp
}

// Close stops background keyword rebuilds and releases keyword indexes.
func (r *Retriever) Close() error {
	r.cancel()
	r.pool.Release()
	r.closeKeyword()
	return nil
}
