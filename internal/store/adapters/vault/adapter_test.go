package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	store "github.com/dropDatabas3/hellojohn-keys/internal/store"
)

// fakeKV emula lo mínimo de KV v2 que usa el store: write, read, list y
// delete de metadata, bajo /v1/secret/.
type fakeKV struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{} // id -> data
	base    string
}

func newFakeKV() *fakeKV {
	return &fakeKV{secrets: map[string]map[string]interface{}{}, base: "/v1/secret/"}
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.TrimPrefix(r.URL.Path, f.base)
	kind, p, _ := strings.Cut(rest, "/")
	p = strings.TrimPrefix(p, DefaultPath)
	id := strings.Trim(p, "/")

	switch {
	case kind == "metadata" && r.Method == http.MethodGet && r.URL.Query().Get("list") == "true":
		if len(f.secrets) == 0 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		keys := make([]string, 0, len(f.secrets))
		for k := range f.secrets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"keys": keys}})

	case kind == "metadata" && r.Method == http.MethodDelete:
		delete(f.secrets, id)
		w.WriteHeader(http.StatusNoContent)

	case kind == "data" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[id] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"version": 1}})

	case kind == "data" && r.Method == http.MethodGet:
		data, ok := f.secrets[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": data, "metadata": map[string]any{"version": 1}},
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*KeyStore, *fakeKV) {
	t.Helper()
	fake := newFakeKV()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	cfg := vault.DefaultConfig()
	cfg.Address = ts.URL
	cfg.MaxRetries = 0
	client, err := vault.NewClient(cfg)
	require.NoError(t, err)
	client.SetToken("test-token")

	return NewKeyStore(client, "", "", zap.NewNop()), fake
}

func sample(id string) *jwt.SerializedKey {
	return &jwt.SerializedKey{
		Version:           1,
		ID:                id,
		Algorithm:         "RS256",
		IsX509Certificate: true,
		Created:           time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Data:              "{}",
	}
}

func TestKeyStore_EmptyMount(t *testing.T) {
	ks, _ := newTestStore(t)
	all, err := ks.LoadAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestKeyStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ks, fake := newTestStore(t)

	require.NoError(t, ks.Store(ctx, sample("k1")))
	require.NoError(t, ks.Store(ctx, sample("k1")))
	require.NoError(t, ks.Store(ctx, sample("k2")))

	all, err := ks.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, *sample("k1"), *all[0])

	// secreto con basura: se saltea
	fake.mu.Lock()
	fake.secrets["roto"] = map[string]interface{}{envelopeField: "{nope"}
	fake.mu.Unlock()
	all, err = ks.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, ks.Delete(ctx, "k1"))
	require.NoError(t, ks.Delete(ctx, "k1"))
	all, err = ks.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "k2", all[0].ID)
}

func TestAdapter_Registered(t *testing.T) {
	_, ok := store.GetAdapter("vault")
	require.True(t, ok)
}
