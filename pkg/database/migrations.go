package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager handles database migrations
// ARCHITECTURAL DISCOVERY: Migrations ship inside the binary, a directory on disk
// only replaces them when explicitly configured
type MigrationManager struct {
	db         *sql.DB
	migrations fs.FS
}

// NewMigrationManager creates a migration manager over the embedded migrations,
// or over migrationsPath when it is not empty.
func NewMigrationManager(db *sql.DB, migrationsPath string) *MigrationManager {
	var source fs.FS
	if migrationsPath != "" {
		source = os.DirFS(migrationsPath)
	} else {
		source, _ = fs.Sub(embeddedMigrations, "migrations")
	}
	return &MigrationManager{db: db, migrations: source}
}

// ApplyMigrations applies all pending migrations
// ARCHITECTURAL DISCOVERY: Each migration runs in its own transaction together
// with its schema_migrations row, so a failed file is never half applied
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// AppliedVersions lists the versions recorded in schema_migrations, in order.
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	applied, err := m.getAppliedMigrations()
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// loadMigrations reads every .sql file, ordered by the version prefix of its
// name ("001_initial_schema.sql" is version "001").
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.migrations, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.migrations, entry.Name())
		if err != nil {
			return nil, err
		}

		base := strings.TrimSuffix(entry.Name(), ".sql")
		version, description, _ := strings.Cut(base, "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *MigrationManager) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
