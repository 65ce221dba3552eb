package database

import (
	"strings"
	"testing"
)

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
	if err := validator.ValidateIndexes(); err == nil {
		t.Error("ValidateIndexes should fail on empty database")
	}
}

func TestSchemaValidator_WrongColumnType(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("DROP TABLE messages"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE messages (
		id TEXT PRIMARY KEY, session_id TEXT, kind TEXT, role TEXT,
		content TEXT, score TEXT, feedback TEXT, source TEXT, timestamp DATETIME)`); err != nil {
		t.Fatal(err)
	}

	err := NewSchemaValidator(db).ValidateTableStructure()
	if err == nil || !strings.Contains(err.Error(), "column score has type TEXT") {
		t.Errorf("Expected score type mismatch, got %v", err)
	}
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatal(err)
	}

	// Messages need an existing session.
	_, err := db.Exec(`INSERT INTO messages (id, session_id, kind, role, content, timestamp)
		VALUES ('m1', 'missing', 'question', 'desktop', 'hi', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("foreign key constraint not enforced")
	}

	_, err = db.Exec(`INSERT INTO sessions (id, pin, owner_name, created_at, updated_at, expires_at)
		VALUES ('s1', '123456', 'Ada', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	if err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}

	_, err = db.Exec(`INSERT INTO messages (id, session_id, kind, role, content, timestamp)
		VALUES ('m2', 's1', 'prompt', 'desktop', 'hi', CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("kind check constraint not enforced")
	}

	_, err = db.Exec(`INSERT INTO sessions (id, pin, owner_name, created_at, updated_at, expires_at)
		VALUES ('s2', '12', 'Ada', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("pin length check not enforced")
	}

	// Deleting a session cascades to its messages.
	if _, err := db.Exec(`INSERT INTO messages (id, session_id, kind, role, content, timestamp)
		VALUES ('m3', 's1', 'question', 'desktop', 'hi', CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("DELETE FROM sessions WHERE id = 's1'"); err != nil {
		t.Fatal(err)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected cascade delete, %d messages remain", count)
	}
}
