package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	store "github.com/dropDatabas3/hellojohn-keys/internal/store"
)

type KeyStoreTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	ks     *KeyStore
	ctx    context.Context
}

func (s *KeyStoreTestSuite) SetupTest() {
	var err error
	s.mr, err = miniredis.Run()
	s.Require().NoError(err)

	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.ks = NewKeyStore(s.client, "test:", zap.NewNop())
	s.ctx = context.Background()
}

func (s *KeyStoreTestSuite) TearDownTest() {
	_ = s.client.Close()
	s.mr.Close()
}

func TestKeyStoreTestSuite(t *testing.T) {
	suite.Run(t, new(KeyStoreTestSuite))
}

func (s *KeyStoreTestSuite) sample(id string) *jwt.SerializedKey {
	return &jwt.SerializedKey{
		Version:       1,
		ID:            id,
		Algorithm:     "PS256",
		Created:       time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC),
		Data:          "n|c",
		DataProtected: true,
	}
}

func (s *KeyStoreTestSuite) TestStoreLoadDelete() {
	s.Require().NoError(s.ks.Store(s.ctx, s.sample("a")))
	s.Require().NoError(s.ks.Store(s.ctx, s.sample("a")))
	s.Require().NoError(s.ks.Store(s.ctx, s.sample("b")))

	all, err := s.ks.LoadAll(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 2)

	s.True(s.mr.Exists("test:signing-keys"))
	fields, err := s.mr.HKeys("test:signing-keys")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"a", "b"}, fields)

	s.Require().NoError(s.ks.Delete(s.ctx, "a"))
	s.Require().NoError(s.ks.Delete(s.ctx, "a"))
	all, err = s.ks.LoadAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(*s.sample("b"), *all[0])
}

func (s *KeyStoreTestSuite) TestMalformedEntryIsSkipped() {
	s.Require().NoError(s.ks.Store(s.ctx, s.sample("ok")))
	s.mr.HSet("test:signing-keys", "roto", "{no es json")

	all, err := s.ks.LoadAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal("ok", all[0].ID)
}

func (s *KeyStoreTestSuite) TestStoreUnavailable() {
	other, err := miniredis.Run()
	s.Require().NoError(err)
	client := redis.NewClient(&redis.Options{Addr: other.Addr(), MaxRetries: -1})
	defer client.Close()
	ks := NewKeyStore(client, "", zap.NewNop())
	other.Close()

	_, err = ks.LoadAll(s.ctx)
	s.Error(err)
}

func (s *KeyStoreTestSuite) TestAdapterConnect() {
	conn, err := store.OpenAdapter(s.ctx, store.AdapterConfig{
		Name:   "redis",
		Redis:  store.RedisConfig{Addr: s.mr.Addr()},
		Logger: zap.NewNop(),
	})
	s.Require().NoError(err)
	defer conn.Close()
	s.NoError(conn.Ping(s.ctx))
	s.NoError(conn.Keys().Store(s.ctx, s.sample("x")))
	s.True(s.mr.Exists(DefaultPrefix + "signing-keys"))
}
