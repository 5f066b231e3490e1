package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/config"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/secretbox"
)

func loadConfig(t *testing.T, dir, body string) *config.Config {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestOpenKeys_FSStoreSurvivesRestart(t *testing.T) {
	master, err := secretbox.GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := loadConfig(t, dir, `
storage:
  driver: fs
  fs:
    dir: keys
key_management:
  algorithms:
    - name: ES256
  initialization_synchronization_delay: 1ms
security:
  signing_master_keys: ["`+master+`"]
`)
	ctx := context.Background()

	first, err := OpenKeys(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	k1, err := first.Manager.CurrentSigningKey(ctx, "")
	require.NoError(t, err)
	require.NoError(t, first.Ready(ctx))
	require.NoError(t, first.Close())

	files, err := os.ReadDir(filepath.Join(dir, "keys"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.True(t, strings.HasPrefix(files[0].Name(), "is-signing-key-"))

	raw, err := os.ReadFile(filepath.Join(dir, "keys", files[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"dataProtected":true`)

	second, err := OpenKeys(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()
	k2, err := second.Manager.CurrentSigningKey(ctx, "")
	require.NoError(t, err)
	require.Equal(t, k1.ID(), k2.ID())
}

func TestOpenKeys_UnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Driver = "etcd"
	f := false
	cfg.KeyManagement.DataProtectKeys = &f

	_, err := OpenKeys(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "etcd")
}

func TestOpenKeys_BadMasterKey(t *testing.T) {
	cfg := loadConfig(t, t.TempDir(), `
storage:
  driver: memory
security:
  signing_master_keys: ["not-a-key"]
`)
	_, err := OpenKeys(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, secretbox.ErrInvalidKey)
}

func TestStoreTargetHidesCredentials(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://app:s3cr3t@db:5432/keys"

	target := storeTarget(cfg.AdapterConfig())
	require.NotContains(t, target, "s3cr3t")
	require.Contains(t, target, "db:5432")
}
