package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores rendered bytes by key. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedConverter memoizes a pure Converter by a hash of its input. Cache
// failures fall through to the wrapped converter.
type CachedConverter struct {
	next      Converter
	cache     Cache
	namespace string
	ttl       time.Duration
	observe   func(result string)
}

func NewCachedConverter(next Converter, cache Cache, namespace string, ttl time.Duration, observe func(result string)) *CachedConverter {
	if observe == nil {
		observe = func(string) {}
	}
	return &CachedConverter{next: next, cache: cache, namespace: namespace, ttl: ttl, observe: observe}
}

func cacheKey(namespace, markup string) string {
	sum := sha256.Sum256([]byte(markup))
	return "render:" + namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedConverter) Render(ctx context.Context, markup string) ([]byte, error) {
	key := cacheKey(c.namespace, markup)
	data, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.observe("error")
	case ok:
		c.observe("hit")
		return data, nil
	default:
		c.observe("miss")
	}

	data, err = c.next.Render(ctx, markup)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Set(ctx, key, data, c.ttl)
	return data, nil
}
