package jwt

import "errors"

var (
	// ErrInvalidAlgorithm se devuelve cuando el nombre del algoritmo no es soportado
	// o no corresponde al tipo de material de la clave.
	ErrInvalidAlgorithm = errors.New("jwt: invalid signing algorithm")

	// ErrUnsupportedKey se devuelve para variantes de clave que no sabemos manejar.
	ErrUnsupportedKey = errors.New("jwt: unsupported key type")

	// ErrKeyIDMismatch indica que el Id almacenado no coincide con el material.
	ErrKeyIDMismatch = errors.New("jwt: key id does not match key material")

	// ErrUnsupportedVersion indica una versión de envelope desconocida.
	ErrUnsupportedVersion = errors.New("jwt: unsupported serialized key version")

	ErrInvalidPayload = errors.New("jwt: invalid key payload")
)
