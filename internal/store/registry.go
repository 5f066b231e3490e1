package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Adapter crea conexiones a un backend de persistencia.
type Adapter interface {
	// Name retorna el nombre del driver (ej: "fs", "postgres", "redis", "vault").
	Name() string

	// Connect establece conexión con el almacenamiento.
	Connect(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error)
}

// AdapterConnection representa una conexión activa.
type AdapterConnection interface {
	Name() string
	Ping(ctx context.Context) error
	Close() error

	// Keys devuelve el store de claves de firma de esta conexión.
	Keys() SigningKeyStore
}

// AdapterConfig configuración para conectar a un almacenamiento.
type AdapterConfig struct {
	// Name del driver: "fs", "postgres", "redis", "vault", "memory".
	Name string

	// DSN connection string (postgres).
	DSN string
	// MaxConns del pool (postgres). 0 usa el default del adapter.
	MaxConns int

	// FSRoot directorio donde viven los archivos de claves (fs).
	FSRoot string
	// FilePrefix prefijo de cada archivo de clave (fs).
	FilePrefix string

	Redis RedisConfig
	Vault VaultConfig

	// Logger para errores por registro; nil usa logger.Named("store").
	Logger *zap.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix de las claves Redis.
	Prefix string
}

type VaultConfig struct {
	Address string
	Token   string
	// Mount del engine KV v2 (default "secret").
	Mount string
	// Path bajo el mount donde se guarda cada clave (default "hellojohn/signing-keys").
	Path    string
	Timeout time.Duration
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("adapter: %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenAdapter abre una conexión usando el adapter especificado en la config.
func OpenAdapter(ctx context.Context, cfg AdapterConfig) (AdapterConnection, error) {
	a, ok := GetAdapter(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDriver, cfg.Name, ListAdapters())
	}
	return a.Connect(ctx, cfg)
}
