package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/metrics"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/hyperjump/kensaku/pkg/utils"
)

const (
	defaultBatchSize   = 32
	defaultCacheSize   = 10000
	defaultCorpusTTL   = 7 * 24 * time.Hour
	defaultQueryTTL    = time.Hour
	defaultCallTimeout = 60 * time.Second
)

// Encoder embeds text through a write-through cache. The backend is not
// reentrant, so every backend call holds the model lock; this lock is the
// throughput bottleneck of the whole retrieval path.
type Encoder struct {
	backend     Embedder
	cache       Cache
	modelLock   chan struct{}
	batchSize   int
	corpusTTL   time.Duration
	queryTTL    time.Duration
	callTimeout time.Duration
	logger      *zap.Logger
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithCache sets the cache. The default is an in-memory EmbeddingCache.
func WithCache(c Cache) EncoderOption {
	return func(e *Encoder) {
		e.cache = c
	}
}

// WithBatchSize sets how many cache misses go to the backend per call.
func WithBatchSize(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithTTL sets the corpus and query cache lifetimes.
func WithTTL(corpus, query time.Duration) EncoderOption {
	return func(e *Encoder) {
		if corpus > 0 {
			e.corpusTTL = corpus
		}
		if query > 0 {
			e.queryTTL = query
		}
	}
}

// WithCallTimeout bounds each backend call.
func WithCallTimeout(d time.Duration) EncoderOption {
	return func(e *Encoder) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithLogger sets the logger for the encoder.
func WithLogger(logger *zap.Logger) EncoderOption {
	return func(e *Encoder) {
		e.logger = logger
	}
}

// NewEncoder wraps backend with caching and call serialization.
func NewEncoder(backend Embedder, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		backend:     backend,
		modelLock:   make(chan struct{}, 1),
		batchSize:   defaultBatchSize,
		corpusTTL:   defaultCorpusTTL,
		queryTTL:    defaultQueryTTL,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewEmbeddingCache(defaultCacheSize)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// EncodeResult holds vectors in input order plus cache statistics.
type EncodeResult struct {
	Vectors  [][]float32
	CacheHit []bool
	Hits     int
	Misses   int
}

// Encode embeds texts for tenantID, preserving order. Identical
// (text, model, tenant) inputs always produce bit-identical vectors.
func (e *Encoder) Encode(ctx context.Context, texts []string, tenantID string) (*EncodeResult, error) {
	res := &EncodeResult{
		Vectors:  make([][]float32, len(texts)),
		CacheHit: make([]bool, len(texts)),
	}
	if len(texts) == 0 {
		return res, nil
	}

	modelID := e.backend.ModelID()
	keys := make([]string, len(texts))
	// Unique missing texts, each with every position it fills.
	var missTexts []string
	missPositions := make(map[string][]int)
	for i, text := range texts {
		keys[i] = CacheKey(KindCorpus, modelID, tenantID, text)
		if vec, ok := e.cache.Get(keys[i]); ok && len(vec) == e.backend.Dimensions() {
			res.Vectors[i] = vec
			res.CacheHit[i] = true
			res.Hits++
			continue
		}
		res.Misses++
		if _, seen := missPositions[text]; !seen {
			missTexts = append(missTexts, text)
		}
		missPositions[text] = append(missPositions[text], i)
	}

	for start := 0; start < len(missTexts); start += e.batchSize {
		end := min(start+e.batchSize, len(missTexts))
		batch := missTexts[start:end]
		vecs, err := e.callBackend(ctx, batch, false)
		if err != nil {
			return nil, err
		}
		for j, text := range batch {
			positions := missPositions[text]
			e.cache.Set(keys[positions[0]], vecs[j], e.corpusTTL)
			for _, pos := range positions {
				res.Vectors[pos] = cloneVector(vecs[j])
			}
		}
	}

	e.logger.Debug("encoded texts",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(texts)),
		zap.Int("hits", res.Hits),
		zap.Int("misses", res.Misses))
	return res, nil
}

// EmbedQuery embeds a single query for tenantID using the query cache
// namespace and TTL. The second return reports a cache hit.
func (e *Encoder) EmbedQuery(ctx context.Context, text, tenantID string) ([]float32, bool, error) {
	key := CacheKey(KindQuery, e.backend.ModelID(), tenantID, text)
	if vec, ok := e.cache.Get(key); ok && len(vec) == e.backend.Dimensions() {
		return vec, true, nil
	}
	vecs, err := e.callBackend(ctx, []string{text}, true)
	if err != nil {
		return nil, false, err
	}
	e.cache.Set(key, vecs[0], e.queryTTL)
	return vecs[0], false, nil
}

// Forget evicts the cached embedding of text so the next call recomputes it.
func (e *Encoder) Forget(kind KeyKind, text, tenantID string) {
	e.cache.Delete(CacheKey(kind, e.backend.ModelID(), tenantID, text))
}

// Dimensions returns the backend's vector dimension.
func (e *Encoder) Dimensions() int {
	return e.backend.Dimensions()
}

// ModelID returns the backend's model identity.
func (e *Encoder) ModelID() string {
	return e.backend.ModelID()
}

// CacheLen returns the number of cached embeddings.
func (e *Encoder) CacheLen() int {
	return e.cache.Len()
}

// Close releases the backend and the cache.
func (e *Encoder) Close() error {
	return errors.Join(e.backend.Close(), e.cache.Close())
}

type backendResult struct {
	vecs [][]float32
	err  error
}

// callBackend runs one backend call under the model lock. A caller whose
// context ends while queued gives up without calling the backend. A call that
// outlives its timeout returns early; the lock is released only when the
// backend actually returns.
func (e *Encoder) callBackend(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		metrics.ModelErrors.WithLabelValues("canceled").Inc()
		return nil, kerrors.Wrap(err, kerrors.CodeModelTimeout, "embedding request already canceled")
	}
	waitStart := time.Now()
	select {
	case e.modelLock <- struct{}{}:
	case <-ctx.Done():
		metrics.ModelErrors.WithLabelValues("canceled").Inc()
		return nil, kerrors.Wrap(ctx.Err(), kerrors.CodeModelTimeout, "gave up waiting for embedding model",
			kerrors.Field("waited", time.Since(waitStart).String()))
	}
	metrics.ModelLockWait.Observe(time.Since(waitStart).Seconds())

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	done := make(chan backendResult, 1)
	callStart := time.Now()
	go func() {
		defer func() { <-e.modelLock }()
		defer func() {
			if r := recover(); r != nil {
				done <- backendResult{err: fmt.Errorf("embedding backend panic: %v", r)}
			}
		}()
		var r backendResult
		if qe, ok := e.backend.(QueryEmbedder); ok && query {
			r.vecs, r.err = qe.EmbedQueries(callCtx, texts)
		} else {
			r.vecs, r.err = e.backend.EmbedBatch(callCtx, texts)
		}
		done <- r
	}()

	var r backendResult
	select {
	case r = <-done:
	case <-callCtx.Done():
		metrics.ModelErrors.WithLabelValues("timeout").Inc()
		e.logger.Warn("embedding call timed out",
			zap.Int("texts", len(texts)),
			zap.Duration("timeout", e.callTimeout))
		return nil, kerrors.Wrap(callCtx.Err(), kerrors.CodeModelTimeout, "embedding call timed out",
			kerrors.FieldModel(e.backend.ModelID()))
	}
	metrics.ModelCallDuration.Observe(time.Since(callStart).Seconds())

	if r.err != nil {
		metrics.ModelErrors.WithLabelValues("unavailable").Inc()
		return nil, kerrors.Wrap(r.err, kerrors.CodeModelUnavailable, "embedding backend failed",
			kerrors.FieldModel(e.backend.ModelID()))
	}
	if err := e.checkVectors(r.vecs, len(texts)); err != nil {
		metrics.ModelErrors.WithLabelValues("unavailable").Inc()
		return nil, err
	}
	metrics.EncodedTexts.Add(float64(len(texts)))
	return r.vecs, nil
}

func (e *Encoder) checkVectors(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return kerrors.New(kerrors.CodeModelUnavailable, "embedding backend returned wrong number of vectors",
			kerrors.Field("want", want), kerrors.Field("got", len(vecs)))
	}
	dim := e.backend.Dimensions()
	for i, v := range vecs {
		if len(v) != dim {
			return kerrors.New(kerrors.CodeModelUnavailable, "embedding backend returned wrong dimension",
				kerrors.Field("index", i), kerrors.Field("want", dim), kerrors.Field("got", len(v)))
		}
		if !utils.AllFinite(v) {
			return kerrors.New(kerrors.CodeModelUnavailable, "embedding backend returned non-finite values",
				kerrors.Field("index", i))
		}
	}
	return nil
}
