package embedding

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

func TestEncoder_deterministicAndCached(t *testing.T) {
	mock := NewMockEmbedder(32)
	enc := NewEncoder(mock)
	ctx := context.Background()

	first, err := enc.Encode(ctx, []string{"invoice total", "due date"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Hits)
	assert.Equal(t, 2, first.Misses)
	assert.Equal(t, int64(1), mock.Calls())

	second, err := enc.Encode(ctx, []string{"due date", "invoice total"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Hits)
	assert.Equal(t, []bool{true, true}, second.CacheHit)
	assert.Equal(t, int64(1), mock.Calls(), "cache hits must not reach the backend")

	assert.Equal(t, first.Vectors[0], second.Vectors[1])
	assert.Equal(t, first.Vectors[1], second.Vectors[0])
}

func TestEncoder_evictionDeterminism(t *testing.T) {
	mock := NewMockEmbedder(16)
	enc := NewEncoder(mock)
	ctx := context.Background()

	before, err := enc.Encode(ctx, []string{"quarterly report"}, "acme")
	require.NoError(t, err)
	enc.Forget(KindCorpus, "quarterly report", "acme")
	after, err := enc.Encode(ctx, []string{"quarterly report"}, "acme")
	require.NoError(t, err)

	assert.False(t, after.CacheHit[0], "evicted entry should be recomputed")
	assert.Equal(t, int64(2), mock.Calls())
	for i := range before.Vectors[0] {
		assert.Equal(t, math.Float32bits(before.Vectors[0][i]), math.Float32bits(after.Vectors[0][i]))
	}
}

func TestEncoder_keysIncludeTenant(t *testing.T) {
	mock := NewMockEmbedder(8)
	enc := NewEncoder(mock)
	ctx := context.Background()

	_, err := enc.Encode(ctx, []string{"shared text"}, "tenant-a")
	require.NoError(t, err)
	res, err := enc.Encode(ctx, []string{"shared text"}, "tenant-b")
	require.NoError(t, err)
	assert.False(t, res.CacheHit[0], "cache entries must not cross tenants")
}

func TestEncoder_subBatchesAndDuplicates(t *testing.T) {
	mock := NewMockEmbedder(8)
	enc := NewEncoder(mock, WithBatchSize(2))

	texts := []string{"a one", "b two", "a one", "c three", "d four"}
	res, err := enc.Encode(context.Background(), texts, "t")
	require.NoError(t, err)

	assert.Len(t, res.Vectors, 5)
	assert.Equal(t, res.Vectors[0], res.Vectors[2])
	assert.Equal(t, int64(4), mock.TextsEmbedded(), "duplicates are embedded once")
	assert.Equal(t, int64(2), mock.Calls(), "four unique texts in batches of two")
	assert.Equal(t, 5, res.Misses)
}

func TestEncoder_emptyInput(t *testing.T) {
	mock := NewMockEmbedder(8)
	res, err := NewEncoder(mock).Encode(context.Background(), nil, "t")
	require.NoError(t, err)
	assert.Empty(t, res.Vectors)
	assert.Equal(t, int64(0), mock.Calls())
}

func TestEncoder_queryNamespace(t *testing.T) {
	mock := NewMockEmbedder(8)
	enc := NewEncoder(mock)
	ctx := context.Background()

	_, err := enc.Encode(ctx, []string{"net revenue"}, "t")
	require.NoError(t, err)
	_, hit, err := enc.EmbedQuery(ctx, "net revenue", "t")
	require.NoError(t, err)
	assert.False(t, hit, "query cache is separate from corpus cache")

	_, hit, err = enc.EmbedQuery(ctx, "net revenue", "t")
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestEncoder_serializesBackendCalls(t *testing.T) {
	mock := NewMockEmbedder(8).WithDelay(5 * time.Millisecond)
	enc := NewEncoder(mock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := enc.Encode(context.Background(), []string{string(rune('a' + i))}, "t")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), mock.MaxConcurrent())
}

func TestEncoder_cancelWhileWaitingForLock(t *testing.T) {
	mock := NewMockEmbedder(8).WithDelay(200 * time.Millisecond)
	enc := NewEncoder(mock)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = enc.Encode(context.Background(), []string{"slow one"}, "t")
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := enc.Encode(ctx, []string{"queued"}, "t")
	require.Error(t, err)
	assert.Equal(t, kerrors.KindModelUnavailable, kerrors.KindOf(err))
	assert.True(t, kerrors.IsRetryable(err))
	assert.Equal(t, int64(1), mock.Calls(), "queued caller must not reach the backend")
}

func TestEncoder_canceledContextSkipsIdleBackend(t *testing.T) {
	mock := NewMockEmbedder(8)
	enc := NewEncoder(mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The model lock is free, so only the early context check keeps these
	// calls away from the backend.
	for i := 0; i < 20; i++ {
		_, err := enc.Encode(ctx, []string{"never embedded"}, "t")
		require.Error(t, err)
		assert.True(t, kerrors.HasCode(err, kerrors.CodeModelTimeout))
		assert.ErrorIs(t, err, context.Canceled)

		_, _, err = enc.EmbedQuery(ctx, "never embedded", "t")
		require.Error(t, err)
	}
	assert.Equal(t, int64(0), mock.Calls())
	assert.Equal(t, 0, enc.CacheLen())
}

func TestEncoder_callTimeout(t *testing.T) {
	mock := NewMockEmbedder(8).WithDelay(time.Second)
	enc := NewEncoder(mock, WithCallTimeout(20*time.Millisecond))

	_, err := enc.Encode(context.Background(), []string{"slow"}, "t")
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeModelTimeout))
}

func TestEncoder_backendFailure(t *testing.T) {
	mock := NewMockEmbedder(8)
	mock.SetError(errors.New("connection refused"))
	enc := NewEncoder(mock)

	_, err := enc.Encode(context.Background(), []string{"x y z"}, "t")
	require.Error(t, err)
	assert.True(t, kerrors.HasCode(err, kerrors.CodeModelUnavailable))

	mock.SetError(nil)
	_, err = enc.Encode(context.Background(), []string{"x y z"}, "t")
	assert.NoError(t, err, "failures are per call, not sticky")
}

type badDimEmbedder struct{ *MockEmbedder }

func (b badDimEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestEncoder_rejectsWrongDimension(t *testing.T) {
	enc := NewEncoder(badDimEmbedder{NewMockEmbedder(8)})
	_, err := enc.Encode(context.Background(), []string{"x"}, "t")
	assert.True(t, kerrors.HasCode(err, kerrors.CodeModelUnavailable))
}

func TestMockEmbedder_sharedWordsAreSimilar(t *testing.T) {
	m := NewMockEmbedder(128)
	ctx := context.Background()
	a, _ := m.Embed(ctx, "apple pie recipe")
	b, _ := m.Embed(ctx, "Apple pie!")
	c, _ := m.Embed(ctx, "quarterly tax filing")

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}
	assert.Greater(t, dot(a, b), dot(a, c))
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(Options{Backend: "mock", Dimensions: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, e.Dimensions())

	_, err = NewEmbedder(Options{Backend: "word2vec"})
	assert.Equal(t, kerrors.CodeConfigValidateInvalidValue, kerrors.CodeOf(err))

	_, err = NewEmbedder(Options{Backend: "onnx", ModelPath: filepath.Join(t.TempDir(), "missing.onnx"), Dimensions: 8, MaxTokens: 16})
	assert.Equal(t, kerrors.CodeModelUnavailable, kerrors.CodeOf(err))
}

func TestCacheKey(t *testing.T) {
	k := CacheKey(KindCorpus, "m", "t", "text")
	assert.Equal(t, k, CacheKey(KindCorpus, "m", "t", "text"))
	assert.NotEqual(t, k, CacheKey(KindQuery, "m", "t", "text"))
	assert.NotEqual(t, k, CacheKey(KindCorpus, "m2", "t", "text"))
	assert.NotEqual(t, CacheKey(KindCorpus, "m", "ab", "c"), CacheKey(KindCorpus, "m", "a", "bc"))
}
