package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce size recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

var (
	ErrNoMasterKey   = errors.New("secretbox: no master key configured")
	ErrInvalidKey    = errors.New("secretbox: invalid master key")
	ErrInvalidFormat = errors.New("secretbox: invalid format, expected base64(nonce)|base64(ciphertext)")
	ErrDecrypt       = errors.New("secretbox: decrypt failed")
)

// Box cifra con AES-256-GCM usando un anillo de claves: la primera sella,
// todas se prueban al abrir (rotación de clave maestra).
type Box struct {
	keys [][]byte
}

// New crea un Box con claves crudas de 32 bytes. La primera es la actual.
func New(masterKeys ...[]byte) (*Box, error) {
	if len(masterKeys) == 0 {
		return nil, ErrNoMasterKey
	}
	b := &Box{keys: make([][]byte, 0, len(masterKeys))}
	for i, k := range masterKeys {
		if len(k) != requiredKeyLength {
			return nil, fmt.Errorf("%w: key %d has %d bytes, requires %d", ErrInvalidKey, i, len(k), requiredKeyLength)
		}
		b.keys = append(b.keys, append([]byte(nil), k...))
	}
	return b, nil
}

// NewFromStrings parsea claves en base64, hex o 32 bytes crudos.
// Las entradas vacías se ignoran.
func NewFromStrings(masterKeys ...string) (*Box, error) {
	raw := make([][]byte, 0, len(masterKeys))
	for i, s := range masterKeys {
		if strings.TrimSpace(s) == "" {
			continue
		}
		k, err := ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("master key %d: %w", i, err)
		}
		raw = append(raw, k)
	}
	return New(raw...)
}

// ParseKey acepta base64 (std o raw), hex de 64 caracteres o 32 bytes crudos.
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)

	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if len(key) == 64 {
		if h, err := hex.DecodeString(key); err == nil {
			return h, nil
		}
	}
	if len(key) == requiredKeyLength {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: %d bytes (requiere %d)", ErrInvalidKey, len(key), requiredKeyLength)
}

// GenerateKey devuelve una clave maestra nueva en base64.
func GenerateKey() (string, error) {
	k := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", fmt.Errorf("random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// WithPurpose deriva con HKDF-SHA256 un Box cuyas subclaves solo sirven para
// purpose. Un texto sellado con un propósito no abre con otro.
func (b *Box) WithPurpose(purpose string) (*Box, error) {
	out := &Box{keys: make([][]byte, 0, len(b.keys))}
	for _, k := range b.keys {
		sub := make([]byte, requiredKeyLength)
		if _, err := io.ReadFull(hkdf.New(sha256.New, k, nil, []byte(purpose)), sub); err != nil {
			return nil, fmt.Errorf("hkdf derive: %w", err)
		}
		out.keys = append(out.keys, sub)
	}
	return out, nil
}

// Keys devuelve cuántas claves tiene el anillo.
func (b *Box) Keys() int { return len(b.keys) }

// Seal cifra plain con la clave actual y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Seal(plain []byte) (string, error) {
	if b == nil || len(b.keys) == 0 {
		return "", ErrNoMasterKey
	}
	aesgcm, err := newGCM(b.keys[0])
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aesgcm.Seal(nil, nonce, plain, nil)

	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open descifra probando cada clave del anillo en orden.
func (b *Box) Open(cipherText string) ([]byte, error) {
	if b == nil || len(b.keys) == 0 {
		return nil, ErrNoMasterKey
	}

	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return nil, ErrInvalidFormat
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrInvalidFormat, err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrInvalidFormat, err)
	}
	if len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("%w: nonce esperado %d bytes, obtuvo %d", ErrInvalidFormat, nonceSizeGCM, len(nonce))
	}

	for _, k := range b.keys {
		aesgcm, err := newGCM(k)
		if err != nil {
			return nil, err
		}
		if pt, err := aesgcm.Open(nil, nonce, ct, nil); err == nil {
			return pt, nil
		}
	}
	return nil, ErrDecrypt
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aesgcm, nil
}
