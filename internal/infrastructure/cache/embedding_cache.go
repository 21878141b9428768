package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Observer receives cache outcome events, typically backed by metrics
// counters. A nil observer is valid.
type Observer interface {
	CacheHit()
	CacheMiss()
}

type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// EmbeddingCache maps content hashes to embedding vectors. Eviction never
// loses correctness: a miss recomputes through the compute callback.
//
// Concurrent GetOrCompute calls for the same hash collapse into a single
// in-flight computation.
type EmbeddingCache struct {
	lru      *expirable.LRU[string, []float32]
	group    singleflight.Group
	observer Observer
}

func New(cfg Config, observer Observer) *EmbeddingCache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &EmbeddingCache{
		lru:      expirable.NewLRU[string, []float32](maxEntries, nil, cfg.TTL),
		observer: observer,
	}
}

func (c *EmbeddingCache) GetOrCompute(
	ctx context.Context,
	contentHash string,
	compute func(context.Context) ([]float32, error),
) ([]float32, error) {
	if contentHash == "" {
		return nil, fmt.Errorf("empty content hash")
	}
	if vec, ok := c.lru.Get(contentHash); ok {
		c.hit()
		return vec, nil
	}

	// The computation is shared by every caller waiting on this hash, so it
	// must not die with whichever caller happened to start it.
	computeCtx := context.WithoutCancel(ctx)

	v, err, _ := c.group.Do(contentHash, func() (any, error) {
		// A concurrent caller may have populated the entry while this caller
		// waited on the flight group.
		if vec, ok := c.lru.Get(contentHash); ok {
			c.hit()
			return vec, nil
		}
		c.miss()
		vec, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		c.lru.Add(contentHash, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *EmbeddingCache) Invalidate(contentHash string) {
	c.lru.Remove(contentHash)
}

func (c *EmbeddingCache) Purge() {
	c.lru.Purge()
}

func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}

func (c *EmbeddingCache) hit() {
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *EmbeddingCache) miss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}
