package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// KeyKind identifica la variante de material que lleva un KeyContainer.
type KeyKind int

const (
	KindRSA KeyKind = iota + 1
	KindEC
	KindX509
)

func (k KeyKind) String() string {
	switch k {
	case KindRSA:
		return "rsa"
	case KindEC:
		return "ec"
	case KindX509:
		return "x509"
	default:
		return "unknown"
	}
}

// KeyContainer es una clave de firma con su metadata. Es inmutable después de
// construida: los campos no se exportan y los getters devuelven copias o
// valores que el llamador no debe mutar.
type KeyContainer struct {
	id      string
	alg     string
	created time.Time
	kind    KeyKind

	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
	cert   *x509.Certificate
}

// NewRSAKey envuelve una clave RSA. El Id es el thumbprint RFC 7638 de la pública.
func NewRSAKey(priv *rsa.PrivateKey, alg string, created time.Time) (*KeyContainer, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil rsa key", ErrUnsupportedKey)
	}
	if FamilyOf(alg) != FamilyRSA {
		return nil, fmt.Errorf("%w: %q cannot be used with an RSA key", ErrInvalidAlgorithm, alg)
	}
	id, err := thumbprintID(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyContainer{id: id, alg: alg, created: created.UTC(), kind: KindRSA, rsaKey: priv}, nil
}

// NewECKey envuelve una clave EC; la curva tiene que coincidir con alg.
func NewECKey(priv *ecdsa.PrivateKey, alg string, created time.Time) (*KeyContainer, error) {
	if priv == nil || priv.Curve == nil {
		return nil, fmt.Errorf("%w: nil ec key", ErrUnsupportedKey)
	}
	curve, _, err := curveFor(alg)
	if err != nil {
		return nil, err
	}
	if priv.Curve.Params().Name != curve.Params().Name {
		return nil, fmt.Errorf("%w: %s requires curve %s, got %s",
			ErrInvalidAlgorithm, alg, curve.Params().Name, priv.Curve.Params().Name)
	}
	id, err := thumbprintID(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyContainer{id: id, alg: alg, created: created.UTC(), kind: KindEC, ecKey: priv}, nil
}

// NewX509Key envuelve una clave RSA junto a su certificado. Solo RSA puede
// ir envuelta en certificado. El Id es el SHA-256 del DER del certificado.
func NewX509Key(priv *rsa.PrivateKey, cert *x509.Certificate, alg string, created time.Time) (*KeyContainer, error) {
	if priv == nil || cert == nil {
		return nil, fmt.Errorf("%w: x509 key requires private key and certificate", ErrUnsupportedKey)
	}
	if FamilyOf(alg) != FamilyRSA {
		return nil, fmt.Errorf("%w: %q cannot be wrapped in a certificate", ErrInvalidAlgorithm, alg)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !pub.Equal(&priv.PublicKey) {
		return nil, fmt.Errorf("%w: certificate does not match private key", ErrUnsupportedKey)
	}
	return &KeyContainer{
		id:      certificateID(cert),
		alg:     alg,
		created: created.UTC(),
		kind:    KindX509,
		rsaKey:  priv,
		cert:    cert,
	}, nil
}

func (k *KeyContainer) ID() string         { return k.id }
func (k *KeyContainer) Algorithm() string  { return k.alg }
func (k *KeyContainer) Created() time.Time { return k.created }
func (k *KeyContainer) Kind() KeyKind      { return k.kind }

// HasX509Certificate indica si la clave va envuelta en un certificado.
func (k *KeyContainer) HasX509Certificate() bool { return k.kind == KindX509 }

// Certificate devuelve el certificado (nil si no es KindX509).
func (k *KeyContainer) Certificate() *x509.Certificate { return k.cert }

// PublicKey devuelve la parte pública de la clave.
func (k *KeyContainer) PublicKey() crypto.PublicKey {
	switch k.kind {
	case KindRSA, KindX509:
		return &k.rsaKey.PublicKey
	case KindEC:
		return &k.ecKey.PublicKey
	default:
		return nil
	}
}

func (k *KeyContainer) signer() (crypto.Signer, error) {
	switch k.kind {
	case KindRSA, KindX509:
		return k.rsaKey, nil
	case KindEC:
		return k.ecKey, nil
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedKey, k.kind)
	}
}

// Age devuelve now - Created sin ajustar. Puede ser negativa para claves con
// fecha futura.
func (k *KeyContainer) Age(now time.Time) time.Duration {
	return now.Sub(k.created)
}

func (k *KeyContainer) String() string {
	return fmt.Sprintf("%s(%s,%s,%s)", k.id, k.alg, k.kind, k.created.Format(time.RFC3339))
}

func thumbprintID(pub crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: pub}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func certificateID(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
