// Package migrations embeds SQL migration files.
package migrations

import "embed"

// KeysFS contiene las migraciones de la tabla de claves de firma.
//
//go:embed keys/*.sql
var KeysFS embed.FS

// KeysDir es el directorio dentro de KeysFS donde viven las migraciones.
const KeysDir = "keys"
