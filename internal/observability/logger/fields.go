package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS - CLAVES DE FIRMA
// =================================================================================

// KeyID crea un campo para el Id (kid) de una clave.
func KeyID(v string) zap.Field {
	return zap.String("kid", v)
}

// Alg crea un campo para el algoritmo de firma.
func Alg(v string) zap.Field {
	return zap.String("alg", v)
}

// Age crea un campo para la edad de una clave.
func Age(v time.Duration) zap.Field {
	return zap.Duration("age", v)
}

// Created crea un campo para la fecha de creación de una clave.
func Created(v time.Time) zap.Field {
	return zap.Time("created", v)
}

// Count crea un campo para cantidades (claves cargadas, borradas...).
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// =================================================================================
// CAMPOS - SISTEMA
// =================================================================================

// Store crea un campo para el driver de persistencia.
func Store(v string) zap.Field {
	return zap.String("store", v)
}

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// InstanceID identifica la réplica que hizo algo (ej: creó una clave).
func InstanceID(v string) zap.Field {
	return zap.String("instance_id", v)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Path crea un campo para rutas de archivos o HTTP.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Err crea un campo de error.
func Err(err error) zap.Field {
	return zap.Error(err)
}
