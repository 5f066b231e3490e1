package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

type fakeKeySet struct {
	keys  []*jwt.KeyContainer
	err   error
	calls atomic.Int32
}

func (f *fakeKeySet) AllKeys(ctx context.Context) ([]*jwt.KeyContainer, error) {
	f.calls.Add(1)
	return f.keys, f.err
}

func newKeys(t *testing.T, algs ...string) []*jwt.KeyContainer {
	t.Helper()
	out := make([]*jwt.KeyContainer, 0, len(algs))
	for _, a := range algs {
		k, err := jwt.GenerateKey(a, jwt.GenerateOptions{}, time.Now())
		require.NoError(t, err)
		out = append(out, k)
	}
	return out
}

func TestJWKS_ServesPublicKeysWithCacheControl(t *testing.T) {
	ks := &fakeKeySet{keys: newKeys(t, "ES256", "ES384")}
	wk := NewWellKnownHandler(ks, "https://issuer.test/", []string{"ES256", "ES384"}, time.Hour)
	srv := httptest.NewServer(NewRouter(RouterDeps{WellKnown: wk}))
	defer srv.Close()

	for i := 0; i < 2; i++ {
		res, err := http.Get(srv.URL + "/.well-known/jwks.json")
		require.NoError(t, err)
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "public, max-age=3600", res.Header.Get("Cache-Control"))
		require.NotEmpty(t, res.Header.Get("X-Request-ID"))

		var doc struct {
			Keys []map[string]any `json:"keys"`
		}
		require.NoError(t, json.Unmarshal(body, &doc))
		require.Len(t, doc.Keys, 2)
		require.Equal(t, ks.keys[0].ID(), doc.Keys[0]["kid"])
		require.Equal(t, "sig", doc.Keys[0]["use"])
		require.NotContains(t, doc.Keys[0], "d")
	}
	require.Equal(t, int32(1), ks.calls.Load())

	wk.InvalidateJWKS()
	res, err := http.Get(srv.URL + "/.well-known/jwks.json")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, int32(2), ks.calls.Load())
}

func TestJWKS_KeySourceFailure(t *testing.T) {
	ks := &fakeKeySet{err: errors.New("store down")}
	wk := NewWellKnownHandler(ks, "https://issuer.test", nil, time.Minute)

	rec := httptest.NewRecorder()
	NewRouter(RouterDeps{WellKnown: wk}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Contains(t, rec.Body.String(), "temporarily_unavailable")
}

func TestDiscovery(t *testing.T) {
	wk := NewWellKnownHandler(&fakeKeySet{}, "https://issuer.test/", []string{"RS256", "ES256"}, time.Minute)

	rec := httptest.NewRecorder()
	NewRouter(RouterDeps{WellKnown: wk}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc discoveryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "https://issuer.test", doc.Issuer)
	require.Equal(t, "https://issuer.test/.well-known/jwks.json", doc.JWKSURI)
	require.Equal(t, []string{"RS256", "ES256"}, doc.IDTokenSigningAlgValuesSupported)
}

func TestReadyz(t *testing.T) {
	router := NewRouter(RouterDeps{Ready: func(ctx context.Context) error { return errors.New("ping failed") }})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	mh, err := RegisterMetrics(reg)
	require.NoError(t, err)

	router := NewRouter(RouterDeps{Metrics: mh})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`))
}
