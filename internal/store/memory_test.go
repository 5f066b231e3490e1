package store

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := &jwt.SerializedKey{Version: 1, ID: "a", Algorithm: "RS256", Created: t0.Add(time.Hour), Data: "x"}
	b := &jwt.SerializedKey{Version: 1, ID: "b", Algorithm: "ES256", Created: t0, Data: "y"}

	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, a))
	require.NoError(t, s.Store(ctx, b))
	require.Equal(t, 2, s.Len())

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].ID)

	// copias: mutar lo devuelto no toca el store
	all[0].Data = "mutado"
	again, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "y", again[0].Data)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "nunca-existio"))
	require.Equal(t, 1, s.Len())

	require.ErrorIs(t, s.Store(ctx, &jwt.SerializedKey{ID: "../x"}), ErrInvalidID)
}

func TestRegistry_OpenMemory(t *testing.T) {
	conn, err := OpenAdapter(context.Background(), AdapterConfig{Name: "memory"})
	require.NoError(t, err)
	require.Equal(t, "memory", conn.Name())
	require.NoError(t, conn.Ping(context.Background()))
	require.NotNil(t, conn.Keys())
	require.NoError(t, conn.Close())

	_, err = OpenAdapter(context.Background(), AdapterConfig{Name: "nope"})
	require.ErrorIs(t, err, ErrUnknownDriver)
	require.Contains(t, ListAdapters(), "memory")
}
