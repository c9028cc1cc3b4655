package embedder

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of texts a CachedClient remembers.
const DefaultCacheSize = 4096

// CachedClient memoizes embeddings by exact text.
type CachedClient struct {
	client Client
	cache  *lru.Cache[string, []float32]
}

// NewCachedClient wraps client with an LRU cache of the given size.
func NewCachedClient(client Client, size int) (*CachedClient, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedClient{client: client, cache: cache}, nil
}

// Embed returns cached vectors and embeds only the misses, in one call.
func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	missingAt := make(map[string][]int)
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v
			continue
		}
		if _, queued := missingAt[text]; !queued {
			missing = append(missing, text)
		}
		missingAt[text] = append(missingAt[text], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.client.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ErrNoEmbeddings, len(fresh), len(missing))
	}
	for j, text := range missing {
		c.cache.Add(text, fresh[j])
		for _, i := range missingAt[text] {
			out[i] = fresh[j]
		}
	}
	return out, nil
}

// EmbedSingle generates an embedding for a single text.
func (c *CachedClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return embedSingle(ctx, c, text)
}

// Dimensions returns the wrapped client's dimensions.
func (c *CachedClient) Dimensions() int {
	return c.client.Dimensions()
}

// Len returns the number of cached texts.
func (c *CachedClient) Len() int {
	return c.cache.Len()
}

// Close purges the cache and closes the wrapped client.
func (c *CachedClient) Close() error {
	c.cache.Purge()
	return c.client.Close()
}
