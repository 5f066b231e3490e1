package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

func init() {
	RegisterAdapter(&memoryAdapter{})
}

// MemoryStore guarda los envelopes en un map. Sirve para tests y para
// despliegues de una sola réplica sin persistencia.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]jwt.SerializedKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]jwt.SerializedKey)}
}

// LoadAll devuelve copias ordenadas por Created y luego Id.
func (s *MemoryStore) LoadAll(ctx context.Context) ([]*jwt.SerializedKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*jwt.SerializedKey, 0, len(s.keys))
	for _, k := range s.keys {
		k := k
		out = append(out, &k)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Store(ctx context.Context, key *jwt.SerializedKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidID(key.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.keys[key.ID] = *key
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.keys, id)
	s.mu.Unlock()
	return nil
}

// Len devuelve cuántos envelopes hay guardados.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error) {
	return &memoryConnection{keys: NewMemoryStore()}, nil
}

type memoryConnection struct {
	keys *MemoryStore
}

func (c *memoryConnection) Name() string                   { return "memory" }
func (c *memoryConnection) Ping(ctx context.Context) error { return nil }
func (c *memoryConnection) Close() error                   { return nil }
func (c *memoryConnection) Keys() SigningKeyStore          { return c.keys }
