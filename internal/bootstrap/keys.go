// Package bootstrap arma el manager de claves a partir de la config: store,
// protector, cache y opciones. Lo comparten cmd/service y cmd/keys.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/config"
	"github.com/dropDatabas3/hellojohn-keys/internal/keymanager"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/keycrypto"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/secretbox"
	"github.com/dropDatabas3/hellojohn-keys/internal/store"
	"github.com/dropDatabas3/hellojohn-keys/internal/util"

	// adapters disponibles por nombre en storage.driver
	_ "github.com/dropDatabas3/hellojohn-keys/internal/store/adapters/fs"
	_ "github.com/dropDatabas3/hellojohn-keys/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/hellojohn-keys/internal/store/adapters/redis"
	_ "github.com/dropDatabas3/hellojohn-keys/internal/store/adapters/vault"
)

// KeyServices es todo lo que cuelga de una conexión al store de claves.
type KeyServices struct {
	Conn      store.AdapterConnection
	Protector *keycrypto.Protector
	Manager   *keymanager.Manager
	Options   keymanager.Options
}

// Close libera la conexión al store.
func (k *KeyServices) Close() error {
	if k == nil || k.Conn == nil {
		return nil
	}
	return k.Conn.Close()
}

// Ready reporta si el store responde.
func (k *KeyServices) Ready(ctx context.Context) error {
	return k.Conn.Ping(ctx)
}

// OpenKeys abre el store configurado y arma el manager. Cualquier error de
// configuración sale acá, antes de aceptar tráfico.
func OpenKeys(ctx context.Context, cfg *config.Config, log *zap.Logger, extra ...keymanager.Option) (*KeyServices, error) {
	if log == nil {
		log = logger.L()
	}

	opts, err := cfg.KeyManagerOptions()
	if err != nil {
		return nil, err
	}

	var box *secretbox.Box
	if len(cfg.Security.SigningMasterKeys) > 0 {
		box, err = secretbox.NewFromStrings(cfg.Security.SigningMasterKeys...)
		if err != nil && !errors.Is(err, secretbox.ErrNoMasterKey) {
			return nil, fmt.Errorf("signing master keys: %w", err)
		}
	}
	prot, err := keycrypto.New(box, cfg.DataProtectKeys())
	if err != nil {
		return nil, err
	}

	ac := cfg.AdapterConfig()
	ac.Logger = log.Named("store")
	conn, err := store.OpenAdapter(ctx, ac)
	if err != nil {
		return nil, fmt.Errorf("open %s store (%s): %w", ac.Name, storeTarget(ac), err)
	}

	mopts := append([]keymanager.Option{keymanager.WithLogger(log.Named("keymanager"))}, extra...)
	m, err := keymanager.New(opts, conn.Keys(), prot, nil, mopts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Info("signing key manager ready",
		logger.Store(conn.Name()),
		zap.String("target", storeTarget(ac)),
		zap.String("default_alg", opts.DefaultAlgorithm()),
		zap.Bool("data_protected", cfg.DataProtectKeys()),
		zap.Int("master_keys", len(cfg.Security.SigningMasterKeys)),
	)
	return &KeyServices{Conn: conn, Protector: prot, Manager: m, Options: opts}, nil
}

// storeTarget describe dónde vive el store, sin credenciales.
func storeTarget(ac store.AdapterConfig) string {
	switch ac.Name {
	case "fs":
		return ac.FSRoot
	case "postgres":
		return util.MaskDSN(ac.DSN)
	case "redis":
		return ac.Redis.Addr
	case "vault":
		return ac.Vault.Address
	default:
		return ac.Name
	}
}
