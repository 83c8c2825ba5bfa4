package vectorstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

func TestValidateTenantID(t *testing.T) {
	valid := []string{"acme", "A1", "tenant_01", "org.example-1", "x"}
	for _, id := range valid {
		assert.NoError(t, ValidateTenantID(id), id)
	}

	invalid := []string{"", ".hidden", "-dash", "a/b", "a..b", "with space", string(make([]byte, 200))}
	for _, id := range invalid {
		err := ValidateTenantID(id)
		require.Error(t, err, id)
		assert.Equal(t, kerrors.CodeTenantInvalid, kerrors.CodeOf(err))
		assert.True(t, kerrors.IsInvalidInput(err))
	}
}

func TestManager_TenantIsolation(t *testing.T) {
	m, err := NewManager(t.TempDir(), StoreOptions{Dimensions: 3})
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	a, err := m.Store(ctx, "tenant-a")
	require.NoError(t, err)
	b, err := m.Store(ctx, "tenant-b")
	require.NoError(t, err)

	_, err = a.Add(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}}, chunks("secret a", "secret a2"), "")
	require.NoError(t, err)

	hits, err := b.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = a.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "tenant-a", h.Entry.TenantID)
	}
}

func TestManager_CachesStores(t *testing.T) {
	m, err := NewManager(t.TempDir(), StoreOptions{Dimensions: 3})
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	first, err := m.Store(ctx, "acme")
	require.NoError(t, err)
	second, err := m.Store(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, ok := m.Lookup("other")
	assert.False(t, ok)

	_, err = m.Store(ctx, "../escape")
	assert.Equal(t, kerrors.CodeTenantInvalid, kerrors.CodeOf(err))
}

func TestManager_TenantsAndStats(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m, err := NewManager(dir, StoreOptions{Dimensions: 3})
	require.NoError(t, err)
	s, err := m.Store(ctx, "beta")
	require.NoError(t, err)
	_, err = s.Add(ctx, [][]float32{{1, 0, 0}}, chunks("a"), "")
	require.NoError(t, err)
	_, err = m.Store(ctx, "alpha")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = m.Store(ctx, "alpha")
	assert.Error(t, err)

	reopened, err := NewManager(dir, StoreOptions{Dimensions: 3})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, []string{"alpha", "beta"}, reopened.Tenants())

	stats := reopened.Stats()
	require.Len(t, stats, 2)
	assert.False(t, stats[0].Loaded)

	_, err = reopened.Store(ctx, "beta")
	require.NoError(t, err)
	stats = reopened.Stats()
	assert.True(t, stats[1].Loaded)
	assert.Equal(t, 1, stats[1].Vectors)
}

func TestNewManager_RejectsBadDimension(t *testing.T) {
	_, err := NewManager(t.TempDir(), StoreOptions{})
	assert.Error(t, err)
}

func TestManager_SlowOpenDoesNotBlockOtherTenants(t *testing.T) {
	m, err := NewManager(t.TempDir(), StoreOptions{Dimensions: 3})
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	fast, err := m.Store(ctx, "fast")
	require.NoError(t, err)

	release := make(chan struct{})
	var opens atomic.Int32
	m.open = func(tenantID, dir string, opts StoreOptions) (*TenantStore, error) {
		opens.Add(1)
		<-release
		return OpenTenantStore(tenantID, dir, opts)
	}

	slowDone := make(chan *TenantStore, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := m.Store(ctx, "slow")
			assert.NoError(t, err)
			slowDone <- s
		}()
	}

	lookup := make(chan *TenantStore, 1)
	go func() {
		s, _ := m.Store(ctx, "fast")
		lookup <- s
	}()
	select {
	case s := <-lookup:
		assert.Same(t, fast, s)
	case <-time.After(2 * time.Second):
		t.Fatal("lookup of an open tenant waited on another tenant's load")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.Store(waitCtx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	first, second := <-slowDone, <-slowDone
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), opens.Load())

	cached, ok := m.Lookup("slow")
	require.True(t, ok)
	assert.Same(t, first, cached)
}
