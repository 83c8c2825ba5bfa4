package embedding

import (
	"errors"
	"time"

	"github.com/hyperjump/kensaku/internal/metrics"
)

// TieredCache reads the memory tier first and falls back to the disk tier,
// promoting disk hits. Writes go to both tiers.
type TieredCache struct {
	memory *EmbeddingCache
	disk   *BadgerCache
}

// NewTieredCache combines memory and disk. disk may be nil.
func NewTieredCache(memory *EmbeddingCache, disk *BadgerCache) *TieredCache {
	return &TieredCache{memory: memory, disk: disk}
}

func (c *TieredCache) Get(key string) ([]float32, bool) {
	if v, ok := c.memory.Get(key); ok {
		metrics.RecordCacheLookup("memory", true)
		return v, true
	}
	metrics.RecordCacheLookup("memory", false)
	if c.disk == nil {
		return nil, false
	}
	v, expiresAt, ok := c.disk.get(key)
	metrics.RecordCacheLookup("disk", ok)
	if !ok {
		return nil, false
	}
	c.memory.setUntil(key, v, expiresAt)
	return v, true
}

func (c *TieredCache) Set(key string, value []float32, ttl time.Duration) {
	c.memory.Set(key, value, ttl)
	if c.disk != nil {
		c.disk.Set(key, value, ttl)
	}
}

func (c *TieredCache) Delete(key string) {
	c.memory.Delete(key)
	if c.disk != nil {
		c.disk.Delete(key)
	}
}

// Len reports the disk tier size when present, else the memory tier size.
func (c *TieredCache) Len() int {
	if c.disk != nil {
		return c.disk.Len()
	}
	return c.memory.Len()
}

func (c *TieredCache) Close() error {
	var errs []error
	if err := c.memory.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.disk != nil {
		if err := c.disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
