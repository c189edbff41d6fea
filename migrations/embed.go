// Package migrations compiles the schema migration SQL into the
// binary so a deployed gateway controller never depends on loose .sql
// files on disk.
package migrations

import (
	"embed"

	"github.com/cellfleet/cellfleet-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Hand the embedded set to the database package, which owns ordering
// and application. Migration files sit at the root of this FS.
func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
