package jwt

import (
	"crypto/elliptic"
	"fmt"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Family agrupa los algoritmos según el tipo de material que usan.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyRSA
	FamilyEC
)

func (f Family) String() string {
	switch f {
	case FamilyRSA:
		return "RSA"
	case FamilyEC:
		return "EC"
	default:
		return "unknown"
	}
}

// DefaultRSAKeySize es el tamaño usado cuando la política no define uno.
const DefaultRSAKeySize = 2048

// MinRSAKeySize es el mínimo aceptado para claves RSA generadas.
const MinRSAKeySize = 2048

type algSpec struct {
	family Family
	method jwtv5.SigningMethod
	curve  elliptic.Curve
	crv    string
}

var algorithms = map[string]algSpec{
	"RS256": {family: FamilyRSA, method: jwtv5.SigningMethodRS256},
	"RS384": {family: FamilyRSA, method: jwtv5.SigningMethodRS384},
	"RS512": {family: FamilyRSA, method: jwtv5.SigningMethodRS512},
	"PS256": {family: FamilyRSA, method: jwtv5.SigningMethodPS256},
	"PS384": {family: FamilyRSA, method: jwtv5.SigningMethodPS384},
	"PS512": {family: FamilyRSA, method: jwtv5.SigningMethodPS512},
	"ES256": {family: FamilyEC, method: jwtv5.SigningMethodES256, curve: elliptic.P256(), crv: "P-256"},
	"ES384": {family: FamilyEC, method: jwtv5.SigningMethodES384, curve: elliptic.P384(), crv: "P-384"},
	"ES512": {family: FamilyEC, method: jwtv5.SigningMethodES512, curve: elliptic.P521(), crv: "P-521"},
}

// FamilyOf decide la familia por el prefijo del nombre (R/P → RSA, E → EC).
// Un nombre que no está en la tabla de algoritmos soportados es FamilyUnknown.
func FamilyOf(alg string) Family {
	if _, ok := algorithms[alg]; !ok {
		return FamilyUnknown
	}
	switch {
	case strings.HasPrefix(alg, "R"), strings.HasPrefix(alg, "P"):
		return FamilyRSA
	case strings.HasPrefix(alg, "E"):
		return FamilyEC
	default:
		return FamilyUnknown
	}
}

// IsSupported indica si alg es un algoritmo de firma conocido.
func IsSupported(alg string) bool {
	_, ok := algorithms[alg]
	return ok
}

// SupportedAlgorithms devuelve los nombres soportados en orden estable.
func SupportedAlgorithms() []string {
	return []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}
}

// SigningMethod devuelve el método de golang-jwt para alg.
func SigningMethod(alg string) (jwtv5.SigningMethod, error) {
	s, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, alg)
	}
	return s.method, nil
}

func curveFor(alg string) (elliptic.Curve, string, error) {
	s, ok := algorithms[alg]
	if !ok || s.family != FamilyEC {
		return nil, "", fmt.Errorf("%w: %q is not an EC algorithm", ErrInvalidAlgorithm, alg)
	}
	return s.curve, s.crv, nil
}
