// Package store define el contrato de persistencia de claves de firma y el
// registry de adaptadores (fs, postgres, redis, vault, memory).
package store

import (
	"context"
	"errors"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrUnknownDriver = errors.New("store: unknown driver")
	ErrInvalidID     = errors.New("store: invalid key id")
)

// SigningKeyStore persiste envelopes de claves. Las tres operaciones son
// idempotentes: Store sobrescribe por Id, Delete de un Id inexistente no
// falla. LoadAll descarta (y loguea) los registros que no puede leer y solo
// devuelve error si el almacenamiento entero no responde.
type SigningKeyStore interface {
	LoadAll(ctx context.Context) ([]*jwt.SerializedKey, error)
	Store(ctx context.Context, key *jwt.SerializedKey) error
	Delete(ctx context.Context, id string) error
}

// ValidID rechaza Ids que no podrían usarse como nombre de archivo o clave.
// Los Ids generados son base64url, así que alcanza con ese alfabeto.
func ValidID(id string) error {
	if id == "" || len(id) > 128 {
		return ErrInvalidID
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return ErrInvalidID
		}
	}
	return nil
}
