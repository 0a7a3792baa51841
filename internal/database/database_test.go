package database

import (
	"path/filepath"
	"testing"
)

func TestNewSQLiteAndInitialize(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer db.Close()

	if db.Driver() != "sqlite" {
		t.Errorf("Expected sqlite driver, got %s", db.Driver())
	}

	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	// Schema creation is idempotent.
	if err := db.Initialize(); err != nil {
		t.Errorf("Second Initialize should succeed: %v", err)
	}

	for _, table := range []string{"credentials", "intents", "outcomes", "conversation_turns", "leads", "activities"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}
