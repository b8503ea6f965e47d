package store

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration embedded under migrations/,
// recording progress in the schema_migrations table. Re-running a
// migration that has already applied is a no-op.
func (s *Store) Migrate() error {
	sqlDB, err := s.DB()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	goose.SetBaseFS(migrationFS)
	goose.SetTableName("schema_migrations")
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// MigrateStatus reports the current migration version, used by the admin
// surface's status command.
func (s *Store) MigrateStatus() (int64, error) {
	sqlDB, err := s.DB()
	if err != nil {
		return 0, fmt.Errorf("migrate status: %w", err)
	}
	goose.SetTableName("schema_migrations")
	return goose.GetDBVersion(sqlDB)
}
