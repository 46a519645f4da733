package llm

import (
	"context"
	"time"

	"github.com/ppiankov/concordia/internal/cache"
)

// CachedEmbedder memoizes embeddings per (backend, model, text)
type CachedEmbedder struct {
	inner Embedder
	cache cache.Cache
	model string
	ttl   time.Duration
}

// NewCachedEmbedder wraps e with c. modelName scopes the cache keys.
func NewCachedEmbedder(e Embedder, c cache.Cache, modelName string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: e, cache: c, model: modelName, ttl: ttl}
}

func (c *CachedEmbedder) Name() string   { return c.inner.Name() }
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Embed returns cached vectors and embeds only the misses, in one call
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		var vec []float32
		if cache.GetJSON(c.cache, c.key(text), &vec) && len(vec) > 0 {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		out[idx] = vectors[j]
		_ = cache.SetJSON(c.cache, c.key(missTexts[j]), vectors[j], c.ttl)
	}
	return out, nil
}

func (c *CachedEmbedder) key(text string) string {
	return cache.Key("embed", c.inner.Name(), c.model, text)
}
