// Package migrations embeds the IOC's SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Source returns the embedded migrations for database.DB.Migrate.
func Source() database.Source {
	return database.Source{FS: migrationsFS, Dir: "."}
}
