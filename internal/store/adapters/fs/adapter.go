// Package fs implementa el store de claves sobre el filesystem: un archivo
// JSON por clave, <prefijo><id>.json, escrito de forma atómica.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	store "github.com/dropDatabas3/hellojohn-keys/internal/store"
	"github.com/dropDatabas3/hellojohn-keys/internal/util/atomicwrite"
)

// DefaultFilePrefix es el prefijo de cada archivo de clave.
const DefaultFilePrefix = "is-signing-key-"

const fileExt = ".json"

func init() {
	store.RegisterAdapter(&fsAdapter{})
}

type fsAdapter struct{}

func (a *fsAdapter) Name() string { return "fs" }

func (a *fsAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	root := cfg.FSRoot
	if root == "" {
		root = filepath.Join("data", "keys")
	}
	ks, err := New(root, cfg.FilePrefix, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &fsConnection{keys: ks}, nil
}

type fsConnection struct {
	keys *KeyStore
}

func (c *fsConnection) Name() string { return "fs" }

func (c *fsConnection) Ping(ctx context.Context) error {
	_, err := os.Stat(c.keys.dir)
	return err
}

func (c *fsConnection) Close() error                { return nil }
func (c *fsConnection) Keys() store.SigningKeyStore { return c.keys }

// KeyStore implementa store.SigningKeyStore en un directorio.
type KeyStore struct {
	dir    string
	prefix string
	log    *zap.Logger
}

// New crea el directorio si no existe.
func New(dir, prefix string, log *zap.Logger) (*KeyStore, error) {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	if log == nil {
		log = logger.Named("store.fs")
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return nil, fmt.Errorf("fs: create keys dir %s: %w", dir, mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("fs: keys dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("fs: keys path is not a directory: %s", dir)
	}

	return &KeyStore{dir: dir, prefix: prefix, log: log.With(logger.Store("fs"))}, nil
}

func (s *KeyStore) path(id string) string {
	return filepath.Join(s.dir, s.prefix+id+fileExt)
}

// LoadAll lee todos los archivos con el prefijo. Un archivo ilegible, con
// JSON inválido o cuyo id no coincide con el nombre se loguea y se saltea.
func (s *KeyStore) LoadAll(ctx context.Context) ([]*jwt.SerializedKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fs: read keys dir: %w", err)
	}

	out := make([]*jwt.SerializedKey, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		path := filepath.Join(s.dir, name)

		b, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable key file", logger.Path(path), logger.Err(err))
			continue
		}
		var sk jwt.SerializedKey
		if err := json.Unmarshal(b, &sk); err != nil {
			s.log.Warn("skipping malformed key file", logger.Path(path), logger.Err(err))
			continue
		}
		// Delete(id) borra por nombre: un archivo que no coincide quedaría huérfano
		if want := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), fileExt); sk.ID != want {
			s.log.Warn("skipping key file whose id does not match its name",
				logger.Path(path), logger.KeyID(sk.ID))
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
	if err := atomicwrite.WriteJSON(s.path(key.ID), key, 0o600); err != nil {
		return fmt.Errorf("fs: store key %s: %w", key.ID, err)
	}
	return nil
}

func (s *KeyStore) Delete(ctx context.Context, id string) error {
	if err := store.ValidID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("fs: delete key %s: %w", id, err)
	}
	return nil
}
