// Package logger expone un logger Zap de proceso con scoping por contexto.
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// Los componentes reciben un *zap.Logger inyectado; si no se pasa ninguno
// usan logger.Named("<componente>"). Los campos de dominio (KeyID, Alg, Age,
// Store) están en fields.go. Nunca se loguea material privado ni claves
// maestras.
package logger
