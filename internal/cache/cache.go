// Package cache guarda en memoria de proceso el conjunto de claves ya
// descifradas, para no ir al store en cada firma.
//
// El cache nunca sale del proceso: las entradas tienen material privado en
// claro, así que no hay backend distribuido.
package cache

import (
	"time"

	"github.com/dropDatabas3/hellojohn-keys/internal/jwt"
)

// KeySetCache guarda un único conjunto de claves con TTL.
type KeySetCache interface {
	// Get devuelve una copia del conjunto cacheado si no expiró.
	Get() ([]*jwt.KeyContainer, bool)

	// Set reemplaza el conjunto. ttl <= 0 equivale a Invalidate.
	Set(keys []*jwt.KeyContainer, ttl time.Duration)

	// Invalidate descarta el conjunto cacheado.
	Invalidate()
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Hits      int64
	Misses    int64
	Cached    int
	ExpiresAt time.Time
}
