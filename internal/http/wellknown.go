package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
	"github.com/dropDatabas3/hellojohn-keys/internal/observability/logger"
)

// KeySet es lo que los endpoints públicos necesitan del manager.
type KeySet interface {
	AllKeys(ctx context.Context) ([]*jwt.KeyContainer, error)
}

// WellKnownHandler sirve el JWKS y un discovery mínimo.
type WellKnownHandler struct {
	issuer     string
	algorithms []string
	maxAge     time.Duration
	jwks       *jwt.JWKSCache
}

// NewWellKnownHandler arma el handler. maxAge acota el Cache-Control del
// JWKS y también el cache del documento serializado.
func NewWellKnownHandler(keys KeySet, issuer string, algorithms []string, maxAge time.Duration) *WellKnownHandler {
	h := &WellKnownHandler{
		issuer:     strings.TrimRight(issuer, "/"),
		algorithms: append([]string(nil), algorithms...),
		maxAge:     maxAge,
	}
	h.jwks = jwt.NewJWKSCache(maxAge, func(ctx context.Context) (json.RawMessage, error) {
		all, err := keys.AllKeys(ctx)
		if err != nil {
			return nil, err
		}
		return jwt.BuildJWKS(all)
	})
	return h
}

// JWKS maneja GET/HEAD /.well-known/jwks.json
func (h *WellKnownHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	data, err := h.jwks.Get(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("failed to build JWKS", logger.Err(err))
		WriteError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "signing keys unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

type discoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	JWKSURI                          string   `json:"jwks_uri"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
}

// Discovery maneja GET /.well-known/openid-configuration
func (h *WellKnownHandler) Discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	WriteJSON(w, http.StatusOK, discoveryDocument{
		Issuer:                           h.issuer,
		JWKSURI:                          h.issuer + "/.well-known/jwks.json",
		IDTokenSigningAlgValuesSupported: h.algorithms,
	})
}

// InvalidateJWKS fuerza a reconstruir el JWKS en el próximo request.
func (h *WellKnownHandler) InvalidateJWKS() { h.jwks.Invalidate() }
