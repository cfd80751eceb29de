// Package migrations embeds the SQL migrations for the device cache.
package migrations

import (
	"embed"

	"github.com/nerrad567/lumisync-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
