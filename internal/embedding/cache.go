package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// CachedEmbedder wraps an Embedder with an in-memory content-hash cache.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder caches up to size vectors.
func NewCachedEmbedder(inner Embedder, size int64) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", size))
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) Name() string   { return e.inner.Name() }
func (e *CachedEmbedder) Dimension() int { return e.inner.Dimension() }

// Embed returns the embedding for text, using cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.inner.Name() + ":" + ContentHash(text)

	if v, ok := e.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(key, append([]float32(nil), vec...), 1)
	e.cache.Wait()
	return vec, nil
}

// Close releases the cache's background goroutines.
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}
