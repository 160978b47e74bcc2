package embed

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes an embedder's vectors in an LRU keyed by (fingerprint,
// text). Only the texts missing from the cache are sent to the inner
// embedder, in one batch.
type Cache struct {
	inner Embedder
	lru   *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*Cache)(nil)

// NewCache wraps inner with an LRU of size entries.
func NewCache(inner Embedder, size int) (*Cache, error) {
	l, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embed: cache: %w", err)
	}
	return &Cache{inner: inner, lru: l}, nil
}

func (c *Cache) key(text string) string {
	return c.inner.Fingerprint() + "\x00" + text
}

func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	pending := make(map[string][]int)
	for i, t := range texts {
		if v, ok := c.lru.Get(c.key(t)); ok {
			out[i] = v
			c.hits.Add(1)
			continue
		}
		c.misses.Add(1)
		if idxs, dup := pending[t]; dup {
			pending[t] = append(idxs, i)
			continue
		}
		pending[t] = []int{i}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs, len(missTexts)); err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		t := texts[i]
		c.lru.Add(c.key(t), vecs[j])
		for _, k := range pending[t] {
			out[k] = vecs[j]
		}
	}
	return out, nil
}

func (c *Cache) Dimension() int      { return c.inner.Dimension() }
func (c *Cache) Fingerprint() string { return c.inner.Fingerprint() }

// Purge drops every cached vector.
func (c *Cache) Purge() { c.lru.Purge() }

// Len returns the number of cached vectors.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
