package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	b, err := New(testKey(1))
	require.NoError(t, err)

	msg := []byte("hola mundo ✓ secreto")
	ct, err := b.Seal(msg)
	require.NoError(t, err)
	require.Len(t, strings.Split(ct, "|"), 2)

	pt, err := b.Open(ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestOpen_DetectsTamper(t *testing.T) {
	b, err := New(testKey(200))
	require.NoError(t, err)

	ct, err := b.Seal([]byte("top secret"))
	require.NoError(t, err)

	parts := strings.Split(ct, "|")
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	bs[0] ^= 0xFF
	tampered := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	_, err = b.Open(tampered)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = b.Open("sin-separador")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestKeyRing_PreviousKeysOpen(t *testing.T) {
	old, err := New(testKey(10))
	require.NoError(t, err)
	ct, err := old.Seal([]byte("viejo"))
	require.NoError(t, err)

	ring, err := New(testKey(50), testKey(10))
	require.NoError(t, err)
	pt, err := ring.Open(ct)
	require.NoError(t, err)
	require.Equal(t, "viejo", string(pt))

	// la nueva sella con la primera: la vieja sola no abre
	ct2, err := ring.Seal([]byte("nuevo"))
	require.NoError(t, err)
	_, err = old.Open(ct2)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestWithPurpose_Isolated(t *testing.T) {
	b, err := New(testKey(3))
	require.NoError(t, err)
	a1, err := b.WithPurpose("signing-keys")
	require.NoError(t, err)
	a2, err := b.WithPurpose("signing-keys")
	require.NoError(t, err)
	other, err := b.WithPurpose("otra-cosa")
	require.NoError(t, err)

	ct, err := a1.Seal([]byte("x"))
	require.NoError(t, err)

	_, err = a2.Open(ct)
	require.NoError(t, err)
	_, err = other.Open(ct)
	require.ErrorIs(t, err, ErrDecrypt)
	_, err = b.Open(ct)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestParseKey_Formats(t *testing.T) {
	raw := testKey(7)

	k, err := ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, k)

	k, err = ParseKey(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, k)

	k, err = ParseKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, k)

	_, err = ParseKey("corta")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestNew_Errors(t *testing.T) {
	_, err := New()
	require.ErrorIs(t, err, ErrNoMasterKey)

	_, err = New([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFromStrings("", "  ")
	require.ErrorIs(t, err, ErrNoMasterKey)

	g, err := GenerateKey()
	require.NoError(t, err)
	b, err := NewFromStrings(g)
	require.NoError(t, err)
	require.Equal(t, 1, b.Keys())
}
