package keymanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/cache"
	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/security/keycrypto"
	"github.com/dropDatabas3/hellojohn-keys/internal/store"
)

const day = 24 * time.Hour

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock avanza solo con Advance o Sleep. onSleep corre antes de avanzar.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	onSleep func()
	slept   time.Duration
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

func testOptions(algs ...string) Options {
	o := DefaultOptions()
	o.Algorithms = nil
	for _, a := range algs {
		o.Algorithms = append(o.Algorithms, SigningAlgorithm{Name: a})
	}
	o.CreationLockTimeout = 5 * time.Second
	return o
}

type harness struct {
	m     *Manager
	store *store.MemoryStore
	cache *cache.Memory
	clock *fakeClock
	prot  *keycrypto.Protector
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWithStore(t, opts, nil)
}

// newHarnessWithStore arma un manager; wrap permite envolver h.store.
func newHarnessWithStore(t *testing.T, opts Options, wrap func(*store.MemoryStore) store.SigningKeyStore) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemoryStore(),
		clock: newFakeClock(epoch),
	}
	h.cache = cache.NewMemory(cache.WithNow(h.clock.Now))

	p, err := keycrypto.New(nil, false)
	require.NoError(t, err)
	h.prot = p

	var st store.SigningKeyStore = h.store
	if wrap != nil {
		st = wrap(h.store)
	}
	m, err := New(opts, st, p, h.cache,
		WithClock(h.clock), WithLogger(zap.NewNop()), WithInstanceID("test"))
	require.NoError(t, err)
	h.m = m
	return h
}

// seed guarda una clave de alg creada hace age.
func (h *harness) seed(t *testing.T, alg string, age time.Duration) *jwt.KeyContainer {
	t.Helper()
	k := newKey(t, alg, h.clock.Now().Add(-age))
	sk, err := h.prot.Protect(k)
	require.NoError(t, err)
	require.NoError(t, h.store.Store(context.Background(), sk))
	return k
}

func newKey(t *testing.T, alg string, created time.Time) *jwt.KeyContainer {
	t.Helper()
	k, err := jwt.GenerateKey(alg, jwt.GenerateOptions{}, created)
	require.NoError(t, err)
	return k
}

func ids(keys []*jwt.KeyContainer) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.ID())
	}
	return out
}
