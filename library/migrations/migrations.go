package migrations

import "embed"

// MigrationFiles holds one goose migration directory per SQL dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var MigrationFiles embed.FS

const (
	PostgresDir = "postgres"
	SQLiteDir   = "sqlite"
)
