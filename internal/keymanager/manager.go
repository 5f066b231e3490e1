// Package keymanager crea, rota y retira automáticamente las claves de firma
// del proveedor de identidad. Varias réplicas pueden compartir el mismo store:
// la coordinación es por convergencia (todas eligen la misma clave actual con
// la misma regla) y no por consenso.
package keymanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/hellojohn-keys/internal/cache"
	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/metrics"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/secretbox"
	"github.com/dropDatabas3/hellojohn-keys/internal/store"
)

// KeyProtector convierte claves a envelopes persistibles y vuelta.
type KeyProtector interface {
	Protect(k *jwt.KeyContainer) (*jwt.SerializedKey, error)
	Unprotect(sk *jwt.SerializedKey) (*jwt.KeyContainer, error)
}

// Manager orquesta store, protector y cache. Es seguro para uso concurrente.
type Manager struct {
	opts      Options
	store     store.SigningKeyStore
	protector KeyProtector
	cache     cache.KeySetCache
	clock     Clock
	log       *zap.Logger
	instance  string

	createLock *semaphore.Weighted
	loads      singleflight.Group
	// retryAfter (UnixNano) frena los reintentos de rotación tras un fallo.
	retryAfter atomic.Int64
}

// Option configura un Manager.
type Option func(*Manager)

func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithInstanceID fija el id de réplica que aparece en los logs de creación.
func WithInstanceID(id string) Option { return func(m *Manager) { m.instance = id } }

// New valida opts y arma el manager. Si c es nil se usa un cache en memoria
// que sigue el mismo reloj del manager.
func New(opts Options, st store.SigningKeyStore, p KeyProtector, c cache.KeySetCache, options ...Option) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if st == nil || p == nil {
		return nil, fmt.Errorf("%w: store and protector are required", ErrInvalidOptions)
	}

	opts.Algorithms = append([]SigningAlgorithm(nil), opts.Algorithms...)
	m := &Manager{
		opts:       opts,
		store:      st,
		protector:  p,
		cache:      c,
		clock:      SystemClock(),
		createLock: semaphore.NewWeighted(1),
	}
	for _, o := range options {
		o(m)
	}
	if m.log == nil {
		m.log = logger.Named("keymanager")
	}
	if m.instance == "" {
		m.instance = uuid.NewString()
	}
	if m.cache == nil {
		m.cache = cache.NewMemory(cache.WithNow(m.clock.Now))
	}
	return m, nil
}

// Options devuelve la política con la que se construyó el manager.
func (m *Manager) Options() Options { return m.opts }

// CurrentSigningKeys devuelve una clave por algoritmo configurado, en el
// orden de la configuración. Crea claves si hace falta.
func (m *Manager) CurrentSigningKeys(ctx context.Context) ([]*jwt.KeyContainer, error) {
	_, current, err := m.getAllKeys(ctx)
	return current, err
}

// CurrentSigningKey devuelve la clave actual de alg ("" = algoritmo por defecto).
func (m *Manager) CurrentSigningKey(ctx context.Context, alg string) (*jwt.KeyContainer, error) {
	if alg == "" {
		alg = m.opts.DefaultAlgorithm()
	}
	if _, ok := m.opts.algorithm(alg); !ok {
		return nil, fmt.Errorf("%w: algorithm %q is not configured", ErrNoSigningKey, alg)
	}
	current, err := m.CurrentSigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range current {
		if k.Algorithm() == alg {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoSigningKey, alg)
}

// SigningCredential es CurrentSigningKey convertido en credencial de firma.
func (m *Manager) SigningCredential(ctx context.Context, alg string) (*jwt.SigningCredential, error) {
	k, err := m.CurrentSigningKey(ctx, alg)
	if err != nil {
		return nil, err
	}
	return k.SigningCredential()
}

// AllKeys devuelve el conjunto de validación: toda clave no retirada,
// incluidas las pendientes y las vencidas, ordenadas por Created.
func (m *Manager) AllKeys(ctx context.Context) ([]*jwt.KeyContainer, error) {
	keys, _, err := m.getAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]*jwt.KeyContainer(nil), keys...)
	sortByCreated(out)
	return out, nil
}

// CurrentKey aplica la regla de selección a keys con el reloj del manager.
func (m *Manager) CurrentKey(keys []*jwt.KeyContainer, alg string) *jwt.KeyContainer {
	a, ok := m.opts.algorithm(alg)
	if !ok {
		return nil
	}
	return m.opts.selectCurrent(keys, a, m.clock.Now())
}

// RotationRequired indica si algún algoritmo configurado necesita clave nueva.
func (m *Manager) RotationRequired(keys []*jwt.KeyContainer) bool {
	return m.opts.rotationRequired(keys, m.clock.Now())
}

// State clasifica k dentro de keys.
func (m *Manager) State(keys []*jwt.KeyContainer, k *jwt.KeyContainer) KeyState {
	return m.opts.state(keys, k, m.clock.Now())
}

// InvalidateCache descarta el conjunto cacheado; la próxima lectura va al store.
func (m *Manager) InvalidateCache() { m.cache.Invalidate() }

// PruneRetired borra del store los registros retirados, sin importar
// DeleteRetiredKeys y aunque no se puedan descifrar. Devuelve cuántos borró.
func (m *Manager) PruneRetired(ctx context.Context) (int, error) {
	records, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("keymanager: load keys: %w", err)
	}
	now := m.clock.Now()
	n := 0
	for _, rec := range records {
		if !m.opts.isRetiredAt(rec.Created, now) {
			continue
		}
		if err := m.store.Delete(ctx, rec.ID); err != nil {
			return n, fmt.Errorf("keymanager: delete retired key %s: %w", rec.ID, err)
		}
		metrics.RetiredKeysDeleted.Inc()
		n++
	}
	m.cache.Invalidate()
	return n, nil
}

// getAllKeys es el camino de lectura: cache, store, y si falta alguna clave
// o hay que rotar, el camino de creación bajo lock.
func (m *Manager) getAllKeys(ctx context.Context) ([]*jwt.KeyContainer, []*jwt.KeyContainer, error) {
	now := m.clock.Now()

	keys, cached := m.cache.Get()
	if cached {
		metrics.KeyCache.WithLabelValues("hit").Inc()
		keys = m.withoutRetired(keys, now)
	} else {
		metrics.KeyCache.WithLabelValues("miss").Inc()
		loaded, err := m.loadShared(ctx)
		if err != nil {
			return nil, nil, err
		}
		keys = loaded
	}

	current, missing := m.opts.currentKeys(keys, now)
	rotate := m.opts.rotationRequired(keys, now)
	if len(missing) == 0 && (!rotate || m.backingOff(now)) {
		if !cached && !rotate {
			m.cacheKeys(keys, now)
		}
		m.observe(current, now)
		return keys, current, nil
	}

	m.log.Debug("signing keys need creation",
		zap.Strings("missing", missing), logger.Count(len(keys)))

	created, err := m.createNewKeys(ctx)
	if err != nil {
		// con una clave actual por algoritmo se puede seguir firmando. Se
		// cachea por poco tiempo para no reintentar la rotación en cada lectura.
		if len(missing) == 0 && !errors.Is(err, ErrLockTimeout) && ctx.Err() == nil {
			m.log.Error("signing key rotation failed, serving existing keys",
				logger.Err(err), logger.Duration(m.opts.InitializationKeyCacheDuration))
			m.retryAfter.Store(now.Add(m.opts.InitializationKeyCacheDuration).UnixNano())
			m.cache.Set(keys, m.opts.InitializationKeyCacheDuration)
			m.observe(current, now)
			return keys, current, nil
		}
		return nil, nil, err
	}

	m.retryAfter.Store(0)
	now = m.clock.Now()
	current, missing = m.opts.currentKeys(created, now)
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w for %s", ErrNoSigningKey, strings.Join(missing, ", "))
	}
	m.observe(current, now)
	return created, current, nil
}

// createNewKeys corre con el lock de creación tomado. Vuelve a mirar cache y
// store porque otra goroutine o réplica pudo haber creado mientras esperaba.
func (m *Manager) createNewKeys(ctx context.Context) ([]*jwt.KeyContainer, error) {
	start := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, m.opts.CreationLockTimeout)
	defer cancel()
	if err := m.createLock.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Error("timed out waiting for key creation lock", logger.Duration(m.opts.CreationLockTimeout))
		return nil, fmt.Errorf("%w after %s", ErrLockTimeout, m.opts.CreationLockTimeout)
	}
	defer m.createLock.Release(1)
	metrics.CreationLockWait.Observe(time.Since(start).Seconds())

	now := m.clock.Now()
	if keys, ok := m.cache.Get(); ok {
		keys = m.withoutRetired(keys, now)
		if m.complete(keys, now) {
			return keys, nil
		}
	}

	keys, err := m.loadFromStore(ctx)
	if err != nil {
		return nil, err
	}
	if m.complete(keys, now) {
		m.cacheKeys(keys, now)
		return keys, nil
	}

	var created []*jwt.KeyContainer
	for _, alg := range m.opts.Algorithms {
		if !m.opts.rotationRequiredFor(keys, alg, now) {
			continue
		}
		k, err := m.createKey(ctx, alg, now)
		if err != nil {
			return nil, err
		}
		created = append(created, k)
		keys = append(keys, k)
	}

	if m.opts.allWithinInitialization(keys, now) {
		// despliegue nuevo: otras réplicas pueden estar creando a la vez;
		// esperamos y releemos para converger en el mismo conjunto
		delay := m.opts.InitializationSynchronizationDelay
		m.log.Info("new key set detected, waiting before reloading", logger.Duration(delay))
		if err := m.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
		reloaded, err := m.loadFromStore(ctx)
		if err != nil {
			return nil, err
		}
		keys = union(reloaded, created)
	}

	m.cacheKeys(keys, m.clock.Now())
	return keys, nil
}

func (m *Manager) backingOff(now time.Time) bool {
	return now.UnixNano() < m.retryAfter.Load()
}

func (m *Manager) complete(keys []*jwt.KeyContainer, now time.Time) bool {
	_, missing := m.opts.currentKeys(keys, now)
	return len(missing) == 0 && !m.opts.rotationRequired(keys, now)
}

func (m *Manager) createKey(ctx context.Context, alg SigningAlgorithm, now time.Time) (*jwt.KeyContainer, error) {
	k, err := jwt.GenerateKey(alg.Name, jwt.GenerateOptions{
		RSAKeySize:          alg.RSAKeySize,
		UseX509Certificate:  alg.UseX509Certificate,
		CertificateSubject:  m.opts.CertificateSubject,
		CertificateLifetime: m.opts.KeyRetirementAge(),
	}, now)
	if err != nil {
		return nil, fmt.Errorf("keymanager: generate %s key: %w", alg.Name, err)
	}
	sk, err := m.protector.Protect(k)
	if err != nil {
		return nil, fmt.Errorf("keymanager: protect %s key: %w", alg.Name, err)
	}
	if err := m.store.Store(ctx, sk); err != nil {
		return nil, fmt.Errorf("keymanager: store %s key: %w", alg.Name, err)
	}

	metrics.KeysCreated.WithLabelValues(alg.Name).Inc()
	m.log.Info("signing key created",
		logger.KeyID(k.ID()), logger.Alg(alg.Name), logger.Created(k.Created()),
		logger.InstanceID(m.instance))
	return k, nil
}

// sharedLoadTimeout acota una carga compartida, que no hereda la
// cancelación de ningún caller.
const sharedLoadTimeout = 30 * time.Second

// loadShared junta las cargas concurrentes por cache miss en una sola. Cada
// caller espera con su propio ctx: si uno se cancela, los demás siguen
// esperando el mismo resultado.
func (m *Manager) loadShared(ctx context.Context) ([]*jwt.KeyContainer, error) {
	ch := m.loads.DoChan("keys", func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return m.loadFromStore(lctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]*jwt.KeyContainer(nil), res.Val.([]*jwt.KeyContainer)...), nil
	}
}

// loadFromStore lee y descifra todo. Un registro que falla se descarta con
// warning; solo un fallo del store entero es error.
func (m *Manager) loadFromStore(ctx context.Context) ([]*jwt.KeyContainer, error) {
	records, err := m.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("keymanager: load keys: %w", err)
	}

	keys := make([]*jwt.KeyContainer, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		k, err := m.protector.Unprotect(rec)
		if err != nil {
			metrics.KeyLoadFailures.WithLabelValues(failureReason(err)).Inc()
			m.log.Warn("discarding unreadable signing key", logger.KeyID(rec.ID), logger.Err(err))
			continue
		}
		if seen[k.ID()] {
			continue
		}
		seen[k.ID()] = true
		keys = append(keys, k)
	}

	return m.dropRetired(ctx, keys, m.clock.Now()), nil
}

func (m *Manager) withoutRetired(keys []*jwt.KeyContainer, now time.Time) []*jwt.KeyContainer {
	out := keys[:0:0]
	for _, k := range keys {
		if !m.opts.isRetired(k, now) {
			out = append(out, k)
		}
	}
	return out
}

func (m *Manager) dropRetired(ctx context.Context, keys []*jwt.KeyContainer, now time.Time) []*jwt.KeyContainer {
	live := make([]*jwt.KeyContainer, 0, len(keys))
	for _, k := range keys {
		if !m.opts.isRetired(k, now) {
			live = append(live, k)
			continue
		}
		if !m.opts.DeleteRetiredKeys {
			continue
		}
		if err := m.store.Delete(ctx, k.ID()); err != nil {
			m.log.Warn("failed to delete retired signing key", logger.KeyID(k.ID()), logger.Err(err))
			continue
		}
		metrics.RetiredKeysDeleted.Inc()
		m.log.Info("retired signing key deleted",
			logger.KeyID(k.ID()), logger.Alg(k.Algorithm()), logger.Age(k.Age(now)))
	}
	return live
}

func (m *Manager) cacheKeys(keys []*jwt.KeyContainer, now time.Time) {
	ttl := m.opts.KeyCacheDuration
	if m.opts.allWithinInitialization(keys, now) {
		ttl = m.opts.InitializationKeyCacheDuration
	}
	m.cache.Set(keys, ttl)
}

func (m *Manager) observe(current []*jwt.KeyContainer, now time.Time) {
	for _, k := range current {
		metrics.CurrentKeyAge.WithLabelValues(k.Algorithm()).Set(clampedAge(k, now).Seconds())
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, secretbox.ErrNoMasterKey):
		return "no_master_key"
	case errors.Is(err, secretbox.ErrDecrypt), errors.Is(err, secretbox.ErrInvalidFormat):
		return "decrypt"
	case errors.Is(err, jwt.ErrKeyIDMismatch):
		return "kid_mismatch"
	case errors.Is(err, jwt.ErrUnsupportedVersion):
		return "version"
	default:
		return "decode"
	}
}
