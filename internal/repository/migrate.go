package repository

import "embed"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS exposes the embedded goose migrations for the tracking
// schema, for use with database.Migrator / database.RunMigrations.
func MigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationsDir is the directory goose looks up inside MigrationsFS.
const MigrationsDir = "migrations"
