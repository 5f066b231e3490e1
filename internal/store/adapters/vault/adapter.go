// Package vault implementa el store de claves sobre el engine KV v2 de
// HashiCorp Vault: un secreto por clave bajo <mount>/data/<path>/<id>.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	store "github.com/dropDatabas3/hellojohn-keys/internal/store"
)

const (
	DefaultMount = "secret"
	DefaultPath  = "hellojohn/signing-keys"

	envelopeField = "envelope"
)

func init() {
	store.RegisterAdapter(&vaultAdapter{})
}

type vaultAdapter struct{}

func (a *vaultAdapter) Name() string { return "vault" }

func (a *vaultAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	vcfg := vault.DefaultConfig()
	if cfg.Vault.Address != "" {
		vcfg.Address = cfg.Vault.Address
	}
	if cfg.Vault.Timeout > 0 {
		vcfg.Timeout = cfg.Vault.Timeout
	} else {
		vcfg.Timeout = 10 * time.Second
	}
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault: create client: %w", err)
	}
	if cfg.Vault.Token != "" {
		client.SetToken(cfg.Vault.Token)
	}

	ks := NewKeyStore(client, cfg.Vault.Mount, cfg.Vault.Path, cfg.Logger)
	return &vaultConnection{client: client, keys: ks}, nil
}

type vaultConnection struct {
	client *vault.Client
	keys   *KeyStore
}

func (c *vaultConnection) Name() string                { return "vault" }
func (c *vaultConnection) Close() error                { return nil }
func (c *vaultConnection) Keys() store.SigningKeyStore { return c.keys }

func (c *vaultConnection) Ping(ctx context.Context) error {
	_, err := c.client.Sys().HealthWithContext(ctx)
	return err
}

// KeyStore implementa store.SigningKeyStore sobre KV v2.
type KeyStore struct {
	client *vault.Client
	mount  string
	path   string
	log    *zap.Logger
}

func NewKeyStore(client *vault.Client, mount, p string, log *zap.Logger) *KeyStore {
	if mount == "" {
		mount = DefaultMount
	}
	if p == "" {
		p = DefaultPath
	}
	if log == nil {
		log = logger.Named("store.vault")
	}
	return &KeyStore{
		client: client,
		mount:  strings.Trim(mount, "/"),
		path:   strings.Trim(p, "/"),
		log:    log.With(logger.Store("vault")),
	}
}

func (s *KeyStore) dataPath(id string) string {
	return path.Join(s.mount, "data", s.path, id)
}

func (s *KeyStore) metadataPath(id string) string {
	return path.Join(s.mount, "metadata", s.path, id)
}

// LoadAll lista los Ids y lee cada secreto. Un secreto ilegible se loguea y
// se saltea; uno borrado entre el list y el read simplemente no aparece.
func (s *KeyStore) LoadAll(ctx context.Context) ([]*jwt.SerializedKey, error) {
	list, err := s.client.Logical().ListWithContext(ctx, s.metadataPath(""))
	if err != nil {
		return nil, fmt.Errorf("vault: list keys: %w", err)
	}
	if list == nil || list.Data == nil {
		return nil, nil
	}
	ids, _ := list.Data["keys"].([]interface{})

	out := make([]*jwt.SerializedKey, 0, len(ids))
	for _, raw := range ids {
		id, ok := raw.(string)
		if !ok || strings.HasSuffix(id, "/") {
			continue
		}
		sk, err := s.read(ctx, id)
		if err != nil {
			s.log.Warn("skipping unreadable key secret", logger.KeyID(id), logger.Err(err))
			continue
		}
		if sk != nil {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (s *KeyStore) read(ctx context.Context, id string) (*jwt.SerializedKey, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.dataPath(id))
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// KV v2 devuelve data=null para versiones borradas
		return nil, nil
	}
	env, ok := data[envelopeField].(string)
	if !ok {
		return nil, fmt.Errorf("missing %q field", envelopeField)
	}
	var sk jwt.SerializedKey
	if err := json.Unmarshal([]byte(env), &sk); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &sk, nil
}

func (s *KeyStore) Store(ctx context.Context, key *jwt.SerializedKey) error {
	if err := store.ValidID(key.ID); err != nil {
		return err
	}
	b, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("vault: marshal key %s: %w", key.ID, err)
	}
	payload := map[string]interface{}{
		"data": map[string]interface{}{envelopeField: string(b)},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, s.dataPath(key.ID), payload); err != nil {
		return fmt.Errorf("vault: store key %s: %w", key.ID, err)
	}
	return nil
}

// Delete borra el metadata, o sea todas las versiones del secreto.
func (s *KeyStore) Delete(ctx context.Context, id string) error {
	if err := store.ValidID(id); err != nil {
		return err
	}
	if _, err := s.client.Logical().DeleteWithContext(ctx, s.metadataPath(id)); err != nil {
		return fmt.Errorf("vault: delete key %s: %w", id, err)
	}
	return nil
}
