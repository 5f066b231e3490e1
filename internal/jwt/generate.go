package jwt

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// DefaultCertificateSubject es el CN de los certificados autofirmados.
const DefaultCertificateSubject = "OP"

// GenerateOptions controla la generación de material nuevo.
type GenerateOptions struct {
	// RSAKeySize en bits; 0 usa DefaultRSAKeySize.
	RSAKeySize int
	// UseX509Certificate envuelve la clave RSA en un certificado autofirmado.
	UseX509Certificate bool
	// CertificateSubject es el CN del certificado; vacío usa DefaultCertificateSubject.
	CertificateSubject string
	// CertificateLifetime es la validez del certificado desde created.
	CertificateLifetime time.Duration
	// Rand permite inyectar la fuente de aleatoriedad (tests).
	Rand io.Reader
}

// GenerateKey crea material nuevo para alg con fecha de creación created.
func GenerateKey(alg string, opts GenerateOptions, created time.Time) (*KeyContainer, error) {
	r := opts.Rand
	if r == nil {
		r = rand.Reader
	}

	switch FamilyOf(alg) {
	case FamilyRSA:
		size := opts.RSAKeySize
		if size == 0 {
			size = DefaultRSAKeySize
		}
		if size < MinRSAKeySize {
			return nil, fmt.Errorf("%w: rsa key size %d below %d", ErrUnsupportedKey, size, MinRSAKeySize)
		}
		priv, err := rsa.GenerateKey(r, size)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		if !opts.UseX509Certificate {
			return NewRSAKey(priv, alg, created)
		}
		cert, err := selfSignedCertificate(r, priv, opts, created)
		if err != nil {
			return nil, err
		}
		return NewX509Key(priv, cert, alg, created)

	case FamilyEC:
		if opts.UseX509Certificate {
			return nil, fmt.Errorf("%w: %s keys cannot be wrapped in a certificate", ErrInvalidAlgorithm, alg)
		}
		curve, _, err := curveFor(alg)
		if err != nil {
			return nil, err
		}
		priv, err := ecdsa.GenerateKey(curve, r)
		if err != nil {
			return nil, fmt.Errorf("generate ec key: %w", err)
		}
		return NewECKey(priv, alg, created)

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, alg)
	}
}

func selfSignedCertificate(r io.Reader, priv *rsa.PrivateKey, opts GenerateOptions, created time.Time) (*x509.Certificate, error) {
	subject := opts.CertificateSubject
	if subject == "" {
		subject = DefaultCertificateSubject
	}
	lifetime := opts.CertificateLifetime
	if lifetime <= 0 {
		lifetime = 365 * 24 * time.Hour
	}

	serial := uuid.New()
	tmpl := &x509.Certificate{
		SerialNumber:          new(big.Int).SetBytes(serial[:]),
		Subject:               pkix.Name{CommonName: subject},
		NotBefore:             created.UTC(),
		NotAfter:              created.UTC().Add(lifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(r, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}
