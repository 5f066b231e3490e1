// Package pg implementa el store de claves sobre PostgreSQL con pgxpool.
package pg

import (
	"context"
	"fmt"
	iofs "io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	store "github.com/dropDatabas3/hellojohn-keys/internal/store"
	migrations "github.com/dropDatabas3/hellojohn-keys/migrations/postgres"
)

func init() {
	store.RegisterAdapter(&postgresAdapter{})
}

type postgresAdapter struct{}

func (a *postgresAdapter) Name() string { return "postgres" }

func (a *postgresAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	} else {
		poolCfg.MaxConns = 4
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}

	ks := NewKeyStore(pool, cfg.Logger)
	if err := ks.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgConnection{pool: pool, keys: ks}, nil
}

type pgConnection struct {
	pool *pgxpool.Pool
	keys *KeyStore
}

func (c *pgConnection) Name() string                   { return "postgres" }
func (c *pgConnection) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }
func (c *pgConnection) Keys() store.SigningKeyStore    { return c.keys }

func (c *pgConnection) Close() error {
	c.pool.Close()
	return nil
}

// KeyStore implementa store.SigningKeyStore sobre la tabla signing_keys.
type KeyStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewKeyStore(pool *pgxpool.Pool, log *zap.Logger) *KeyStore {
	if log == nil {
		log = logger.Named("store.pg")
	}
	return &KeyStore{pool: pool, log: log.With(logger.Store("postgres"))}
}

// Migrate aplica las migraciones embebidas en orden. Son idempotentes.
func (s *KeyStore) Migrate(ctx context.Context) error {
	files, err := iofs.Glob(migrations.KeysFS, migrations.KeysDir+"/*.up.sql")
	if err != nil {
		return fmt.Errorf("pg: list migrations: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		sql, err := iofs.ReadFile(migrations.KeysFS, f)
		if err != nil {
			return fmt.Errorf("pg: read migration %s: %w", f, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("pg: apply migration %s: %w", f, err)
		}
	}
	return nil
}

const selectKeys = `
SELECT id, algorithm, is_x509, created, data, data_protected, version
FROM signing_keys
ORDER BY created, id`

func (s *KeyStore) LoadAll(ctx context.Context) ([]*jwt.SerializedKey, error) {
	rows, err := s.pool.Query(ctx, selectKeys)
	if err != nil {
		return nil, fmt.Errorf("pg: load keys: %w", err)
	}
	defer rows.Close()

	var out []*jwt.SerializedKey
	for rows.Next() {
		var sk jwt.SerializedKey
		if err := rows.Scan(&sk.ID, &sk.Algorithm, &sk.IsX509Certificate, &sk.Created,
			&sk.Data, &sk.DataProtected, &sk.Version); err != nil {
			s.log.Warn("skipping unreadable key row", logger.Err(err))
			continue
		}
		sk.Created = sk.Created.UTC()
		out = append(out, &sk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: load keys: %w", err)
	}
	return out, nil
}

const upsertKey = `
INSERT INTO signing_keys (id, algorithm, is_x509, created, data, data_protected, version)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    algorithm = EXCLUDED.algorithm,
    is_x509 = EXCLUDED.is_x509,
    created = EXCLUDED.created,
    data = EXCLUDED.data,
    data_protected = EXCLUDED.data_protected,
    version = EXCLUDED.version`

func (s *KeyStore) Store(ctx context.Context, key *jwt.SerializedKey) error {
	if err := store.ValidID(key.ID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, upsertKey, key.ID, key.Algorithm, key.IsX509Certificate,
		key.Created, key.Data, key.DataProtected, key.Version)
	if err != nil {
		return fmt.Errorf("pg: store key %s: %w", key.ID, err)
	}
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM signing_keys WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pg: delete key %s: %w", id, err)
	}
	return nil
}
