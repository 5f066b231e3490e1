// Package redis implementa el store de claves sobre un hash de Redis: un
// campo por clave, con el envelope JSON como valor.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	store "github.com/dropDatabas3/hellojohn-keys/internal/store"
)

// DefaultPrefix de las claves Redis.
const DefaultPrefix = "hellojohn:"

const hashName = "signing-keys"

func init() {
	store.RegisterAdapter(&redisAdapter{})
}

type redisAdapter struct{}

func (a *redisAdapter) Name() string { return "redis" }

func (a *redisAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	addr := cfg.Redis.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return &redisConnection{client: rdb, keys: NewKeyStore(rdb, cfg.Redis.Prefix, cfg.Logger)}, nil
}

type redisConnection struct {
	client *redis.Client
	keys   *KeyStore
}

func (c *redisConnection) Name() string                   { return "redis" }
func (c *redisConnection) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }
func (c *redisConnection) Close() error                   { return c.client.Close() }
func (c *redisConnection) Keys() store.SigningKeyStore    { return c.keys }

// KeyStore implementa store.SigningKeyStore. Acepta un UniversalClient para
// poder usar cluster, sentinel o miniredis en tests.
type KeyStore struct {
	client redis.UniversalClient
	hash   string
	log    *zap.Logger
}

func NewKeyStore(client redis.UniversalClient, prefix string, log *zap.Logger) *KeyStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.Named("store.redis")
	}
	return &KeyStore{client: client, hash: prefix + hashName, log: log.With(logger.Store("redis"))}
}

func (s *KeyStore) LoadAll(ctx context.Context) ([]*jwt.SerializedKey, error) {
	fields, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load keys: %w", err)
	}

	out := make([]*jwt.SerializedKey, 0, len(fields))
	for id, raw := range fields {
		var sk jwt.SerializedKey
		if err := json.Unmarshal([]byte(raw), &sk); err != nil {
			s.log.Warn("skipping malformed key entry", logger.KeyID(id), logger.Err(err))
			continue
		}
		out = append(out, &sk)
	}
	return out, nil
}

func (s *KeyStore) Store(ctx context.Context, key *jwt.SerializedKey) error {
	if err := store.ValidID(key.ID); err != nil {
		return err
	}
	b, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("redis: marshal key %s: %w", key.ID, err)
	}
	if err := s.client.HSet(ctx, s.hash, key.ID, b).Err(); err != nil {
		return fmt.Errorf("redis: store key %s: %w", key.ID, err)
	}
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.hash, id).Err(); err != nil {
		return fmt.Errorf("redis: delete key %s: %w", id, err)
	}
	return nil
}
