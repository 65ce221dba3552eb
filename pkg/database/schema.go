package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a migrated database against what the storage layer
// expects before the application starts serving.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and reports the first failure.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range []string{"sessions", "messages", "schema_migrations"} {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":         "TEXT",
		"pin":        "TEXT",
		"owner_name": "TEXT",
		"is_active":  "INTEGER",
		"created_at": "DATETIME",
		"updated_at": "DATETIME",
		"expires_at": "DATETIME",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":         "TEXT",
		"session_id": "TEXT",
		"kind":       "TEXT",
		"role":       "TEXT",
		"content":    "TEXT",
		"score":      "REAL",
		"feedback":   "TEXT",
		"source":     "TEXT",
		"timestamp":  "DATETIME",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range []string{
		"idx_sessions_pin",
		"idx_sessions_expires_at",
		"idx_messages_session_time",
		"idx_messages_session_kind",
	} {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, typ := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != typ {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, typ)
		}
	}
	return nil
}
