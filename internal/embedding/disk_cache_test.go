package embedding

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerCache_roundTrip(t *testing.T) {
	c, err := OpenBadgerCache(t.TempDir(), nil)
	require.NoError(t, err)
	defer c.Close()

	want := []float32{0.1, -0.2, 0.3}
	c.Set("key", want, time.Hour)

	got, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.Len())

	c.Delete("key")
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestBadgerCache_corruptEntryIsMiss(t *testing.T) {
	c, err := OpenBadgerCache("", nil)
	require.NoError(t, err)
	defer c.Close()

	c.Set("key", []float32{1, 2, 3}, 0)
	raw := encodeCachedVector([]float32{1, 2, 3}, time.Now())
	raw[14] ^= 0xff
	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), raw)
	}))

	_, ok := c.Get("key")
	assert.False(t, ok, "corrupt entry must read as a miss")
	assert.Equal(t, 0, c.Len(), "corrupt entry should be dropped")
}

func TestDecodeCachedVector_rejectsTruncated(t *testing.T) {
	raw := encodeCachedVector([]float32{1, 2}, time.Now())
	_, err := decodeCachedVector(raw[:len(raw)-1])
	assert.Error(t, err)
	_, err = decodeCachedVector(nil)
	assert.Error(t, err)
}
