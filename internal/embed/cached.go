package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
const DefaultCacheSize = 1000

type cacheEntry struct {
	vector     Vector
	tokenCount int
}

// CachedEmbedder wraps an Embedder with an LRU cache keyed on text content
// and model name, avoiding redundant computation for repeated queries and
// unchanged chunks on incremental rebuild.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, cacheEntry]
}

// NewCachedEmbedder wraps inner with an LRU cache of the given size (falls
// back to DefaultCacheSize when size <= 0).
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, cacheEntry](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached vector if present, otherwise computes and
// caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (Vector, int, error) {
	key := c.cacheKey(text)
	if entry, ok := c.cache.Get(key); ok {
		return entry.vector, entry.tokenCount, nil
	}

	vec, tokens, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	c.cache.Add(key, cacheEntry{vector: vec, tokenCount: tokens})
	return vec, tokens, nil
}

// EmbedBatch checks the cache for each text individually, then computes
// the uncached remainder in one inner batch call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([]Vector, error) {
	if len(texts) == 0 {
		return []Vector{}, nil
	}

	results := make([]Vector, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := c.cacheKey(text)
		if entry, ok := c.cache.Get(key); ok {
			results[i] = entry.vector
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts, batchSize)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = computed[j]
		tokens := approximateTokenCount(missTexts[j])
		c.cache.Add(c.cacheKey(missTexts[j]), cacheEntry{vector: computed[j], tokenCount: tokens})
	}
	return results, nil
}

// CountTokens passes through to the inner embedder.
func (c *CachedEmbedder) CountTokens(text string) int {
	return c.inner.CountTokens(text)
}

// ModelName passes through to the inner embedder.
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Close closes the inner embedder. The cache itself holds no resources
// beyond memory.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}

// Lookup returns a cached vector for text without triggering computation,
// used by the hybrid scorer to recover cachedV for BM25-only candidates.
func (c *CachedEmbedder) Lookup(text string) (Vector, bool) {
	entry, ok := c.cache.Get(c.cacheKey(text))
	return entry.vector, ok
}
