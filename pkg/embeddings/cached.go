package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"ragline/pkg/models"
)

// DefaultCacheSize is the default number of embeddings kept in memory. At 768
// dimensions this stays within a few megabytes.
const DefaultCacheSize = 1000

// CachedClient wraps a Client with bounded LRU caching keyed by a hash of the
// input text. Within one pipeline invocation a given topic is embedded at
// most once even when it is considered against many candidate documents.
type CachedClient struct {
	inner Client
	cache *lru.Cache[string, models.Vector]
}

// NewCachedClient creates a cached client wrapping the given client.
func NewCachedClient(inner Client, cacheSize int) *CachedClient {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, models.Vector](cacheSize)
	return &CachedClient{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes text plus model name so switching models never serves stale
// vectors.
func (c *CachedClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

// Embed returns a cached embedding when available, otherwise computes and
// caches it (write-through).
func (c *CachedClient) Embed(ctx context.Context, text string) (models.Vector, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves cached entries and forwards only the misses.
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([]models.Vector, error) {
	out := make([]models.Vector, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, vec := range vecs {
		out[missIdx[j]] = vec
		if vec != nil {
			c.cache.Add(c.cacheKey(missTexts[j]), vec)
		}
	}
	return out, nil
}

// Dimensions returns the wrapped client's dimensionality.
func (c *CachedClient) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the wrapped client's model identifier.
func (c *CachedClient) ModelName() string {
	return c.inner.ModelName()
}

// Len returns the number of cached embeddings.
func (c *CachedClient) Len() int {
	return c.cache.Len()
}
