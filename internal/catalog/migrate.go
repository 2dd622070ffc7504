package catalog

import (
	_ "embed"
	"fmt"
)

//go:embed migrate.sql
var migrateSQL string

// Migrate applies the schema, adapting pkg/store/migrate.go's
// //go:embed-and-apply pattern from Postgres to SQLite: the embedded SQL
// is entirely idempotent (CREATE TABLE/INDEX IF NOT EXISTS), so re-running
// it on an already-migrated database is a no-op, matching the teacher's
// "idempotent apply" design.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(migrateSQL); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_migrations(version, applied_at) VALUES (1, datetime('now'))`,
	); err != nil {
		return fmt.Errorf("catalog: record migration: %w", err)
	}
	return nil
}
