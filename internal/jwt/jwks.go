package jwt

import (
	"crypto/sha1" //nolint:gosec // x5t es SHA-1 por RFC 7517
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// PublicJWK devuelve la parte pública de la clave como JWK (use=sig).
func (k *KeyContainer) PublicJWK() jose.JSONWebKey {
	jwk := jose.JSONWebKey{
		Key:       k.PublicKey(),
		KeyID:     k.id,
		Algorithm: k.alg,
		Use:       "sig",
	}
	if k.cert != nil {
		s1 := sha1.Sum(k.cert.Raw) //nolint:gosec
		s256 := sha256.Sum256(k.cert.Raw)
		jwk.Certificates = []*x509.Certificate{k.cert}
		jwk.CertificateThumbprintSHA1 = s1[:]
		jwk.CertificateThumbprintSHA256 = s256[:]
	}
	return jwk
}

// BuildJWKS arma el documento JWKS con las públicas de keys, en el orden dado.
func BuildJWKS(keys []*KeyContainer) ([]byte, error) {
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, k.PublicJWK())
	}
	b, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshal jwks: %w", err)
	}
	return b, nil
}
