// Package migrations embeds the SerialHome schema into the binary so the
// store can be created without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/serialhome/serialhome-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// FS exposes the embedded migrations, for tests in other packages.
var FS = migrationsFS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
