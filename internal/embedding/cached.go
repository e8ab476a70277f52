package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rcliao/memoryd/internal/cache"
)

// Cached memoizes another embedder's vectors in the shared cache, keyed by a
// digest of the input text.
type Cached struct {
	next  Embedder
	cache *cache.Cache
}

// NewCached wraps next. A nil cache disables memoization.
func NewCached(next Embedder, c *cache.Cache) *Cached {
	return &Cached{next: next, cache: c}
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	sum := sha256.Sum256([]byte(text))
	key := "emb:" + hex.EncodeToString(sum[:])
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.(Vector); ok {
			return vec, nil
		}
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, int64(4*len(vec)))
	return vec, nil
}

func (c *Cached) Dims() int { return c.next.Dims() }
