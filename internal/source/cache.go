package source

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/abdulachik/figlang/internal/figlang"
)

// Cached keeps recently fetched chapters in memory.
type Cached struct {
	next   Provider
	cache  *lru.Cache[string, []figlang.Verse]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps a provider with an LRU cache of size chapters.
func NewCached(next Provider, size int) (*Cached, error) {
	cache, err := lru.New[string, []figlang.Verse](size)
	if err != nil {
		return nil, fmt.Errorf("create chapter cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Name returns the wrapped provider's name.
func (c *Cached) Name() string {
	return c.next.Name()
}

// Chapter returns a cached chapter or fetches it.
func (c *Cached) Chapter(ctx context.Context, book string, chapter int) ([]figlang.Verse, error) {
	key := chapterKey(book, chapter)
	if verses, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return append([]figlang.Verse(nil), verses...), nil
	}
	c.misses.Add(1)

	verses, err := c.next.Chapter(ctx, book, chapter)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, verses)
	return append([]figlang.Verse(nil), verses...), nil
}

// Stats returns cache hits and misses.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
