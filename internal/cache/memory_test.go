package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

func TestMemory_TTLFollowsInjectedClock(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(WithNow(func() time.Time { return now }))

	_, ok := m.Get()
	require.False(t, ok)

	k, err := jwt.GenerateKey("ES256", jwt.GenerateOptions{}, now)
	require.NoError(t, err)
	m.Set([]*jwt.KeyContainer{k}, time.Minute)

	got, ok := m.Get()
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, k.ID(), got[0].ID())

	now = now.Add(59 * time.Second)
	_, ok = m.Get()
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok = m.Get()
	require.False(t, ok)

	s := m.Stats()
	require.Equal(t, int64(2), s.Hits)
	require.Equal(t, int64(2), s.Misses)
}

func TestMemory_SetZeroInvalidates(t *testing.T) {
	m := NewMemory()
	k, err := jwt.GenerateKey("ES256", jwt.GenerateOptions{}, time.Now())
	require.NoError(t, err)

	m.Set([]*jwt.KeyContainer{k}, time.Hour)
	got, ok := m.Get()
	require.True(t, ok)

	// la copia devuelta no afecta al cache
	got[0] = nil
	again, ok := m.Get()
	require.True(t, ok)
	require.NotNil(t, again[0])

	m.Set([]*jwt.KeyContainer{k}, 0)
	_, ok = m.Get()
	require.False(t, ok)
}
