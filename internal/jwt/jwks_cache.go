package jwt

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// JWKSCache guarda el JWKS ya serializado por un TTL corto, para no
// reconstruirlo en cada request al endpoint público.
type JWKSCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	load func(ctx context.Context) (json.RawMessage, error)
	now  func() time.Time

	data json.RawMessage
	exp  time.Time
}

func NewJWKSCache(ttl time.Duration, loader func(context.Context) (json.RawMessage, error)) *JWKSCache {
	return &JWKSCache{ttl: ttl, load: loader, now: time.Now}
}

func (c *JWKSCache) Get(ctx context.Context) (json.RawMessage, error) {
	now := c.now()

	c.mu.RLock()
	if c.data != nil && now.Before(c.exp) {
		data := c.data
		c.mu.RUnlock()
		return data, nil
	}
	c.mu.RUnlock()

	data, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data = data
	c.exp = now.Add(c.ttl)
	c.mu.Unlock()
	return data, nil
}

// Invalidate descarta el JWKS cacheado.
func (c *JWKSCache) Invalidate() {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
}
