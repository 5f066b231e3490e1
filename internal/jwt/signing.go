package jwt

import (
	"crypto"
	"crypto/x509"
	"fmt"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// SigningCredential es lo que un emisor de tokens necesita para firmar.
type SigningCredential struct {
	KeyID       string
	Algorithm   string
	Method      jwtv5.SigningMethod
	Key         crypto.Signer
	Certificate *x509.Certificate
}

// SigningCredential convierte la clave en una credencial de firma.
func (k *KeyContainer) SigningCredential() (*SigningCredential, error) {
	method, err := SigningMethod(k.alg)
	if err != nil {
		return nil, err
	}
	signer, err := k.signer()
	if err != nil {
		return nil, err
	}
	return &SigningCredential{
		KeyID:       k.id,
		Algorithm:   k.alg,
		Method:      method,
		Key:         signer,
		Certificate: k.cert,
	}, nil
}

// Sign firma claims con la credencial y pone kid en el header.
func (c *SigningCredential) Sign(claims jwtv5.Claims) (string, error) {
	tk := jwtv5.NewWithClaims(c.Method, claims)
	tk.Header["kid"] = c.KeyID
	s, err := tk.SignedString(c.Key)
	if err != nil {
		return "", fmt.Errorf("sign token with %s: %w", c.KeyID, err)
	}
	return s, nil
}
