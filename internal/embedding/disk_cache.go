package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/metrics"
	"github.com/hyperjump/kensaku/pkg/utils"
)

var errCorruptEntry = errors.New("corrupt cache entry")

// BadgerCache is the persistent cache tier. Expiry uses badger's native
// per-entry TTL; values carry a checksum and corrupt entries read as misses.
type BadgerCache struct {
	db     *badger.DB
	logger *zap.Logger
	now    func() time.Time
}

// badgerLogger adapts zap to the badger.Logger interface.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.logger.Errorf(msg, items...) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.logger.Warnf(msg, items...) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.logger.Debugf(msg, items...) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debugf(msg, items...) }

// OpenBadgerCache opens the cache at path. An empty path opens an in-memory
// instance.
func OpenBadgerCache(path string, logger *zap.Logger) (*BadgerCache, error) {
	logger = utils.OrNop(logger)

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLogger{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return &BadgerCache{db: db, logger: logger, now: time.Now}, nil
}

// Get returns the cached embedding for key. Corrupt entries are deleted and
// reported as misses.
func (c *BadgerCache) Get(key string) ([]float32, bool) {
	value, _, ok := c.get(key)
	return value, ok
}

func (c *BadgerCache) get(key string) ([]float32, time.Time, bool) {
	var (
		raw       []byte
		expiresAt time.Time
	)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		if exp := item.ExpiresAt(); exp > 0 {
			expiresAt = time.Unix(int64(exp), 0)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		return nil, time.Time{}, false
	}

	vec, err := decodeCachedVector(raw)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("disk", "corrupt").Inc()
		c.logger.Warn("dropping corrupt embedding cache entry", zap.String("key", key), zap.Error(err))
		c.Delete(key)
		return nil, time.Time{}, false
	}
	return vec, expiresAt, true
}

// Set stores value under key with the given ttl. Write failures are logged;
// the cache is an optimization, not a source of truth.
func (c *BadgerCache) Set(key string, value []float32, ttl time.Duration) {
	encoded := encodeCachedVector(value, c.now())
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), encoded)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		c.logger.Warn("embedding cache write failed", zap.Error(err))
	}
}

// Delete removes key.
func (c *BadgerCache) Delete(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		c.logger.Warn("embedding cache delete failed", zap.Error(err))
	}
}

// Len counts live entries.
func (c *BadgerCache) Len() int {
	n := 0
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// Entry layout: created_at unix nanos (8) | dim (4) | float32 LE * dim | crc32 of the preceding bytes (4).
func encodeCachedVector(v []float32, createdAt time.Time) []byte {
	buf := make([]byte, 12+4*len(v)+4)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(createdAt.UnixNano()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(v)))
	off := 12
	for _, f := range v {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], crc32.ChecksumIEEE(buf[:off]))
	return buf
}

func decodeCachedVector(buf []byte) ([]float32, error) {
	if len(buf) < 16 {
		return nil, errCorruptEntry
	}
	dim := int(binary.LittleEndian.Uint32(buf[8:12]))
	if len(buf) != 12+4*dim+4 {
		return nil, errCorruptEntry
	}
	body := len(buf) - 4
	if crc32.ChecksumIEEE(buf[:body]) != binary.LittleEndian.Uint32(buf[body:]) {
		return nil, errCorruptEntry
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[12+4*i:]))
	}
	return v, nil
}
