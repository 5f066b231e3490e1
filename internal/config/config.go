package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/keymanager"
	"github.com/dropDatabas3/hellojohn-keys/internal/store"
)

// AlgorithmConfig es un algoritmo de firma en YAML.
type AlgorithmConfig struct {
	Name               string `yaml:"name"`
	RSAKeySize         int    `yaml:"rsa_key_size"`
	UseX509Certificate bool   `yaml:"use_x509_certificate"`
}

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env     string `yaml:"app_env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	JWT struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"jwt"`

	Storage struct {
		// fs | postgres | redis | vault | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"max_conns"`
		FS       struct {
			Dir string `yaml:"dir"`
		} `yaml:"fs"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Vault struct {
			Address string `yaml:"address"`
			Token   string `yaml:"token"`
			Mount   string `yaml:"mount"`
			Path    string `yaml:"path"`
			Timeout string `yaml:"timeout"`
		} `yaml:"vault"`
	} `yaml:"storage"`

	KeyManagement struct {
		Algorithms []AlgorithmConfig `yaml:"algorithms"`

		InitializationDuration             string `yaml:"initialization_duration"`
		InitializationSynchronizationDelay string `yaml:"initialization_synchronization_delay"`
		InitializationKeyCacheDuration     string `yaml:"initialization_key_cache_duration"`
		KeyCacheDuration                   string `yaml:"key_cache_duration"`
		PropagationTime                    string `yaml:"propagation_time"`
		RotationInterval                   string `yaml:"rotation_interval"`
		RetentionDuration                  string `yaml:"retention_duration"`
		CreationLockTimeout                string `yaml:"creation_lock_timeout"`

		// punteros: ausente en YAML = default true
		DeleteRetiredKeys *bool `yaml:"delete_retired_keys"`
		DataProtectKeys   *bool `yaml:"data_protect_keys"`

		KeyFilePrefix      string `yaml:"key_file_prefix"`
		CertificateSubject string `yaml:"certificate_subject"`
	} `yaml:"key_management"`

	Security struct {
		// base64(32 bytes). El primero cifra; el resto solo descifra.
		SigningMasterKeys []string `yaml:"signing_master_keys"`
	} `yaml:"security"`
}

// Load lee path, aplica defaults y overrides de entorno y valida.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv arma la config solo con defaults y variables de entorno (sin YAML).
func FromEnv() (*Config, error) {
	var c Config
	if err := c.finish("."); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) finish(baseDir string) error {
	c.applyDefaults()
	c.applyEnvOverrides()

	// ruta relativa del store fs => relativa al YAML
	if d := strings.TrimSpace(c.Storage.FS.Dir); d != "" && !filepath.IsAbs(d) {
		c.Storage.FS.Dir = filepath.Clean(filepath.Join(baseDir, d))
	}

	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "fs"
	}
	if c.Storage.FS.Dir == "" {
		c.Storage.FS.Dir = "./data/keys"
	}

	km := &c.KeyManagement
	def := keymanager.DefaultOptions()
	if len(km.Algorithms) == 0 {
		for _, a := range def.Algorithms {
			km.Algorithms = append(km.Algorithms, AlgorithmConfig{
				Name: a.Name, RSAKeySize: a.RSAKeySize, UseX509Certificate: a.UseX509Certificate,
			})
		}
	}
	setDur := func(dst *string, d time.Duration) {
		if strings.TrimSpace(*dst) == "" {
			*dst = d.String()
		}
	}
	setDur(&km.InitializationDuration, def.InitializationDuration)
	setDur(&km.InitializationSynchronizationDelay, def.InitializationSynchronizationDelay)
	setDur(&km.InitializationKeyCacheDuration, def.InitializationKeyCacheDuration)
	setDur(&km.KeyCacheDuration, def.KeyCacheDuration)
	setDur(&km.PropagationTime, def.PropagationTime)
	setDur(&km.RotationInterval, def.RotationInterval)
	setDur(&km.RetentionDuration, def.RetentionDuration)
	setDur(&km.CreationLockTimeout, def.CreationLockTimeout)

	if km.DeleteRetiredKeys == nil {
		v := def.DeleteRetiredKeys
		km.DeleteRetiredKeys = &v
	}
	if km.DataProtectKeys == nil {
		v := true
		km.DataProtectKeys = &v
	}
	if km.KeyFilePrefix == "" {
		km.KeyFilePrefix = "is-signing-key-"
	}
	if km.CertificateSubject == "" {
		km.CertificateSubject = def.CertificateSubject
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (string, bool) {
	if s, ok := getEnvStr(key); ok {
		if _, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return strings.TrimSpace(s), true
		}
	}
	return "", false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("STORAGE_MAX_CONNS"); ok {
		c.Storage.MaxConns = v
	}
	if v, ok := getEnvStr("KEYS_DIR"); ok {
		c.Storage.FS.Dir = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Storage.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Storage.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Storage.Redis.Prefix = v
	}
	// VAULT_ADDR/VAULT_TOKEN son los nombres estándar del cliente de Vault
	if v, ok := getEnvStr("VAULT_ADDR"); ok {
		c.Storage.Vault.Address = v
	}
	if v, ok := getEnvStr("VAULT_TOKEN"); ok {
		c.Storage.Vault.Token = v
	}
	if v, ok := getEnvStr("VAULT_MOUNT"); ok {
		c.Storage.Vault.Mount = v
	}
	if v, ok := getEnvStr("VAULT_KEYS_PATH"); ok {
		c.Storage.Vault.Path = v
	}

	// KEY MANAGEMENT
	km := &c.KeyManagement
	if v, ok := getEnvCSV("SIGNING_ALGORITHMS"); ok && len(v) > 0 {
		km.Algorithms = km.Algorithms[:0]
		for _, name := range v {
			km.Algorithms = append(km.Algorithms, AlgorithmConfig{Name: strings.ToUpper(name)})
		}
	}
	durs := []struct {
		env string
		dst *string
	}{
		{"KEYS_INITIALIZATION_DURATION", &km.InitializationDuration},
		{"KEYS_INITIALIZATION_SYNC_DELAY", &km.InitializationSynchronizationDelay},
		{"KEYS_INITIALIZATION_CACHE_DURATION", &km.InitializationKeyCacheDuration},
		{"KEYS_CACHE_DURATION", &km.KeyCacheDuration},
		{"KEYS_PROPAGATION_TIME", &km.PropagationTime},
		{"KEYS_ROTATION_INTERVAL", &km.RotationInterval},
		{"KEYS_RETENTION_DURATION", &km.RetentionDuration},
		{"KEYS_CREATION_LOCK_TIMEOUT", &km.CreationLockTimeout},
	}
	for _, d := range durs {
		if v, ok := getEnvDur(d.env); ok {
			*d.dst = v
		}
	}
	if v, ok := getEnvBool("KEYS_DELETE_RETIRED"); ok {
		km.DeleteRetiredKeys = &v
	}
	if v, ok := getEnvBool("KEYS_DATA_PROTECT"); ok {
		km.DataProtectKeys = &v
	}

	// SECURITY - master keys de claves de firma
	if v, ok := getEnvStr("SIGNING_MASTER_KEY"); ok {
		rest := c.Security.SigningMasterKeys
		if len(rest) > 0 {
			rest = rest[1:]
		}
		c.Security.SigningMasterKeys = append([]string{strings.TrimSpace(v)}, rest...)
	}
	if v, ok := getEnvCSV("SIGNING_MASTER_KEYS_PREVIOUS"); ok {
		c.Security.SigningMasterKeys = append(c.Security.SigningMasterKeys, v...)
	}
}

// Validate revisa lo que keymanager no ve (storage, master keys) y las
// opciones de claves. Junta todos los problemas en un solo error.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "fs", "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for redis"))
		}
	case "vault":
		if strings.TrimSpace(c.Storage.Vault.Address) == "" {
			errs = append(errs, errors.New("storage.vault.address is required for vault"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if t := c.Storage.Vault.Timeout; t != "" {
		if _, err := time.ParseDuration(t); err != nil {
			errs = append(errs, fmt.Errorf("storage.vault.timeout: %w", err))
		}
	}

	if c.DataProtectKeys() && len(c.Security.SigningMasterKeys) == 0 {
		errs = append(errs, errors.New("security.signing_master_keys (or SIGNING_MASTER_KEY) is required when data_protect_keys is enabled"))
	}

	if _, err := c.KeyManagerOptions(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// KeyManagerOptions traduce key_management a keymanager.Options validadas.
func (c *Config) KeyManagerOptions() (keymanager.Options, error) {
	km := c.KeyManagement
	o := keymanager.DefaultOptions()
	var errs []error

	parse := func(name, s string, dst *time.Duration) {
		if strings.TrimSpace(s) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			errs = append(errs, fmt.Errorf("key_management.%s: %w", name, err))
			return
		}
		*dst = d
	}
	parse("initialization_duration", km.InitializationDuration, &o.InitializationDuration)
	parse("initialization_synchronization_delay", km.InitializationSynchronizationDelay, &o.InitializationSynchronizationDelay)
	parse("initialization_key_cache_duration", km.InitializationKeyCacheDuration, &o.InitializationKeyCacheDuration)
	parse("key_cache_duration", km.KeyCacheDuration, &o.KeyCacheDuration)
	parse("propagation_time", km.PropagationTime, &o.PropagationTime)
	parse("rotation_interval", km.RotationInterval, &o.RotationInterval)
	parse("retention_duration", km.RetentionDuration, &o.RetentionDuration)
	parse("creation_lock_timeout", km.CreationLockTimeout, &o.CreationLockTimeout)

	if len(km.Algorithms) > 0 {
		o.Algorithms = make([]keymanager.SigningAlgorithm, 0, len(km.Algorithms))
		for _, a := range km.Algorithms {
			size := a.RSAKeySize
			if size == 0 && jwt.FamilyOf(a.Name) == jwt.FamilyRSA {
				size = jwt.DefaultRSAKeySize
			}
			o.Algorithms = append(o.Algorithms, keymanager.SigningAlgorithm{
				Name:               strings.ToUpper(strings.TrimSpace(a.Name)),
				RSAKeySize:         size,
				UseX509Certificate: a.UseX509Certificate,
			})
		}
	}
	if km.DeleteRetiredKeys != nil {
		o.DeleteRetiredKeys = *km.DeleteRetiredKeys
	}
	if km.CertificateSubject != "" {
		o.CertificateSubject = km.CertificateSubject
	}

	if len(errs) > 0 {
		return o, fmt.Errorf("%w: %w", keymanager.ErrInvalidOptions, errors.Join(errs...))
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

// DataProtectKeys indica si los payloads se cifran antes de persistir.
func (c *Config) DataProtectKeys() bool {
	return c.KeyManagement.DataProtectKeys == nil || *c.KeyManagement.DataProtectKeys
}

// AdapterConfig arma la configuración del adapter de store elegido.
func (c *Config) AdapterConfig() store.AdapterConfig {
	var timeout time.Duration
	if c.Storage.Vault.Timeout != "" {
		timeout, _ = time.ParseDuration(c.Storage.Vault.Timeout)
	}
	return store.AdapterConfig{
		Name:       c.Storage.Driver,
		DSN:        c.Storage.DSN,
		MaxConns:   c.Storage.MaxConns,
		FSRoot:     c.Storage.FS.Dir,
		FilePrefix: c.KeyManagement.KeyFilePrefix,
		Redis: store.RedisConfig{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
			Prefix:   c.Storage.Redis.Prefix,
		},
		Vault: store.VaultConfig{
			Address: c.Storage.Vault.Address,
			Token:   c.Storage.Vault.Token,
			Mount:   c.Storage.Vault.Mount,
			Path:    c.Storage.Vault.Path,
			Timeout: timeout,
		},
	}
}
