package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidIssuer = errors.New("invalid_issuer")
	ErrUnknownKeyID  = errors.New("unknown_kid")
)

// Parse valida la firma de token contra el conjunto de validación keys
// (buscando por kid), chequea iss si expectedIss != "" y exp/nbf con 30s de
// tolerancia. Devuelve las claims como map.
func Parse(token string, keys []*KeyContainer, expectedIss string) (map[string]any, error) {
	byKID := make(map[string]*KeyContainer, len(keys))
	methods := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		byKID[k.ID()] = k
		if !seen[k.Algorithm()] {
			seen[k.Algorithm()] = true
			methods = append(methods, k.Algorithm())
		}
	}

	keyfunc := func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		k, ok := byKID[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
		}
		if t.Method.Alg() != k.Algorithm() {
			return nil, fmt.Errorf("%w: token %s, key %s", ErrInvalidAlgorithm, t.Method.Alg(), k.Algorithm())
		}
		return k.PublicKey(), nil
	}

	tok, err := jwtv5.Parse(token, keyfunc,
		jwtv5.WithValidMethods(methods),
		jwtv5.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid_jwt: %w", err)
	}
	if !tok.Valid {
		return nil, errors.New("invalid_jwt")
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, errors.New("claims_type")
	}
	if expectedIss != "" {
		if iss, _ := claims["iss"].(string); iss != expectedIss {
			return nil, ErrInvalidIssuer
		}
	}

	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out, nil
}
