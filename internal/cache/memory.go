package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

const keySetKey = "signing-keys"

type entry struct {
	keys      []*jwt.KeyContainer
	expiresAt time.Time
}

// Memory implementa KeySetCache sobre go-cache. La expiración se evalúa con
// el reloj inyectado (now) además del TTL de go-cache, para que el manager y
// el cache vean el mismo tiempo.
type Memory struct {
	c      *gocache.Cache
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configura Memory.
type Option func(*Memory)

// WithNow inyecta el reloj (tests).
func WithNow(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// NewMemory crea un cache vacío.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		c:   gocache.New(gocache.NoExpiration, 10*time.Minute),
		now: time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Get() ([]*jwt.KeyContainer, bool) {
	v, ok := m.c.Get(keySetKey)
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	e := v.(entry)
	if !m.now().Before(e.expiresAt) {
		m.c.Delete(keySetKey)
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return append([]*jwt.KeyContainer(nil), e.keys...), true
}

func (m *Memory) Set(keys []*jwt.KeyContainer, ttl time.Duration) {
	if ttl <= 0 {
		m.Invalidate()
		return
	}
	e := entry{
		keys:      append([]*jwt.KeyContainer(nil), keys...),
		expiresAt: m.now().Add(ttl),
	}
	m.c.Set(keySetKey, e, ttl)
}

func (m *Memory) Invalidate() {
	m.c.Delete(keySetKey)
}

// Stats retorna estadísticas del cache.
func (m *Memory) Stats() Stats {
	s := Stats{Hits: m.hits.Load(), Misses: m.misses.Load()}
	if v, ok := m.c.Get(keySetKey); ok {
		e := v.(entry)
		s.Cached = len(e.keys)
		s.ExpiresAt = e.expiresAt
	}
	return s
}
