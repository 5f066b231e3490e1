package jwt

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// SerializedKeyVersion es la única versión de envelope que se escribe y se lee.
const SerializedKeyVersion = 1

// SerializedKey es la forma persistida de una clave. Data es el payload
// serializado, cifrado si DataProtected es true.
type SerializedKey struct {
	Version           int       `json:"version"`
	ID                string    `json:"id"`
	Algorithm         string    `json:"algorithm"`
	IsX509Certificate bool      `json:"isX509Certificate"`
	Created           time.Time `json:"created"`
	Data              string    `json:"data"`
	DataProtected     bool      `json:"dataProtected"`
}

// Validate revisa los campos del envelope antes de intentar decodificar Data.
func (s *SerializedKey) Validate() error {
	if s.Version != SerializedKeyVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPayload)
	}
	if !IsSupported(s.Algorithm) {
		return fmt.Errorf("%w: %q", ErrInvalidAlgorithm, s.Algorithm)
	}
	return nil
}

// keyPayload es el JSON de Data antes de proteger. Los enteros van en
// base64url big-endian como en JWK; x5c en base64 estándar.
type keyPayload struct {
	KeyID     string    `json:"kid"`
	Algorithm string    `json:"alg"`
	Created   time.Time `json:"created"`

	X5C []string `json:"x5c,omitempty"`

	// RSA
	N  string `json:"n,omitempty"`
	E  string `json:"e,omitempty"`
	D  string `json:"d,omitempty"`
	P  string `json:"p,omitempty"`
	Q  string `json:"q,omitempty"`
	DP string `json:"dp,omitempty"`
	DQ string `json:"dq,omitempty"`
	QI string `json:"qi,omitempty"`

	// EC (D es compartido)
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// EncodePayload serializa el material de k.
func EncodePayload(k *KeyContainer) ([]byte, error) {
	p := keyPayload{KeyID: k.id, Algorithm: k.alg, Created: k.created}

	switch k.kind {
	case KindRSA:
		p.setRSA(k.rsaKey)
	case KindX509:
		p.setRSA(k.rsaKey)
		p.X5C = []string{base64.StdEncoding.EncodeToString(k.cert.Raw)}
	case KindEC:
		_, crv, err := curveFor(k.alg)
		if err != nil {
			return nil, err
		}
		size := (k.ecKey.Curve.Params().BitSize + 7) / 8
		p.Crv = crv
		p.D = encodeFixed(k.ecKey.D, size)
		p.X = encodeFixed(k.ecKey.X, size)
		p.Y = encodeFixed(k.ecKey.Y, size)
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedKey, k.kind)
	}

	return json.Marshal(p)
}

// DecodePayload reconstruye un KeyContainer. La variante se elige por la
// familia del algoritmo y el flag de certificado del envelope. El Id se
// recalcula a partir del material y tiene que coincidir con el guardado.
func DecodePayload(alg string, isX509 bool, data []byte) (*KeyContainer, error) {
	var p keyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Algorithm != alg {
		return nil, fmt.Errorf("%w: payload algorithm %q, envelope %q", ErrInvalidAlgorithm, p.Algorithm, alg)
	}

	var (
		k   *KeyContainer
		err error
	)
	switch FamilyOf(alg) {
	case FamilyRSA:
		priv, rerr := p.rsaKey()
		if rerr != nil {
			return nil, rerr
		}
		if isX509 {
			cert, cerr := p.certificate()
			if cerr != nil {
				return nil, cerr
			}
			k, err = NewX509Key(priv, cert, alg, p.Created)
		} else {
			k, err = NewRSAKey(priv, alg, p.Created)
		}
	case FamilyEC:
		if isX509 {
			return nil, fmt.Errorf("%w: %s keys cannot be wrapped in a certificate", ErrUnsupportedKey, alg)
		}
		priv, eerr := p.ecKey(alg)
		if eerr != nil {
			return nil, eerr
		}
		k, err = NewECKey(priv, alg, p.Created)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, alg)
	}
	if err != nil {
		return nil, err
	}

	if p.KeyID != k.id {
		return nil, fmt.Errorf("%w: stored %q, computed %q", ErrKeyIDMismatch, p.KeyID, k.id)
	}
	return k, nil
}

func (p *keyPayload) setRSA(k *rsa.PrivateKey) {
	p.N = encodeInt(k.N)
	p.E = encodeInt(big.NewInt(int64(k.E)))
	p.D = encodeInt(k.D)
	if len(k.Primes) == 2 {
		p.P = encodeInt(k.Primes[0])
		p.Q = encodeInt(k.Primes[1])
	}
	if k.Precomputed.Dp != nil {
		p.DP = encodeInt(k.Precomputed.Dp)
		p.DQ = encodeInt(k.Precomputed.Dq)
		p.QI = encodeInt(k.Precomputed.Qinv)
	}
}

func (p *keyPayload) rsaKey() (*rsa.PrivateKey, error) {
	n, err := decodeInt("n", p.N)
	if err != nil {
		return nil, err
	}
	e, err := decodeInt("e", p.E)
	if err != nil {
		return nil, err
	}
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: rsa exponent out of range", ErrInvalidPayload)
	}
	d, err := decodeInt("d", p.D)
	if err != nil {
		return nil, err
	}
	pp, err := decodeInt("p", p.P)
	if err != nil {
		return nil, err
	}
	q, err := decodeInt("q", p.Q)
	if err != nil {
		return nil, err
	}

	priv := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
		D:         d,
		Primes:    []*big.Int{pp, q},
	}
	priv.Precompute()
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return priv, nil
}

func (p *keyPayload) certificate() (*x509.Certificate, error) {
	if len(p.X5C) == 0 {
		return nil, fmt.Errorf("%w: missing x5c", ErrInvalidPayload)
	}
	der, err := base64.StdEncoding.DecodeString(p.X5C[0])
	if err != nil {
		return nil, fmt.Errorf("%w: x5c: %v", ErrInvalidPayload, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: x5c: %v", ErrInvalidPayload, err)
	}
	return cert, nil
}

func (p *keyPayload) ecKey(alg string) (*ecdsa.PrivateKey, error) {
	curve, crv, err := curveFor(alg)
	if err != nil {
		return nil, err
	}
	if p.Crv != crv {
		return nil, fmt.Errorf("%w: curve %q does not match %s", ErrInvalidPayload, p.Crv, alg)
	}
	x, err := decodeInt("x", p.X)
	if err != nil {
		return nil, err
	}
	y, err := decodeInt("y", p.Y)
	if err != nil {
		return nil, err
	}
	d, err := decodeInt("d", p.D)
	if err != nil {
		return nil, err
	}
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: point not on curve %s", ErrInvalidPayload, crv)
	}
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: ec scalar out of range", ErrInvalidPayload)
	}
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

func encodeInt(v *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(v.Bytes())
}

func encodeFixed(v *big.Int, size int) string {
	b := make([]byte, size)
	v.FillBytes(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeInt(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPayload, name)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}
	return new(big.Int).SetBytes(b), nil
}
