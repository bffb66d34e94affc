package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestUp_CreatesTables(t *testing.T) {
	db := openTestDB(t)

	if err := Up(db); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	for _, table := range []string{"runs", "path_changes", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s was not created: %v", table, err)
		}
	}
}

func TestCheck(t *testing.T) {
	t.Run("fresh index needs migration", func(t *testing.T) {
		db := openTestDB(t)
		if err := Check(db); !errors.Is(err, ErrNoSchema) {
			t.Errorf("Check() = %v, want %v", err, ErrNoSchema)
		}
	})

	t.Run("current after Up", func(t *testing.T) {
		db := openTestDB(t)
		if err := Up(db); err != nil {
			t.Fatal(err)
		}
		if err := Up(db); err != nil {
			t.Errorf("second Up() = %v, want nil", err)
		}
		if err := Check(db); err != nil {
			t.Errorf("Check() = %v", err)
		}
	})
}

func TestLatest(t *testing.T) {
	got, err := Latest()
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("Latest() = %d, want 2", got)
	}
}

func TestSchema_Constraints(t *testing.T) {
	db := openTestDB(t)
	if err := Up(db); err != nil {
		t.Fatal(err)
	}

	insertRun := `INSERT INTO runs (run_id, change_id, status, applied_at, root, run_path)
		VALUES (?, 'c', 'OK', '2024-01-01T00:00:00Z', '/r', 'runs/x')`
	if _, err := db.Exec(insertRun, "r1"); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if _, err := db.Exec(insertRun, "r1"); err == nil {
		t.Error("duplicate run_id was accepted")
	}

	insertPath := `INSERT INTO path_changes (path, run_id, change_id, action, applied_at, status)
		VALUES ('a.txt', ?, 'c', ?, '2024-01-01T00:00:00Z', 'OK')`
	if _, err := db.Exec(insertPath, "missing", "ADD"); err == nil {
		t.Error("path change for unknown run was accepted")
	}
	if _, err := db.Exec(insertPath, "r1", "RENAME"); err == nil {
		t.Error("unknown action was accepted")
	}
	if _, err := db.Exec(insertPath, "r1", "MOD"); err != nil {
		t.Errorf("valid path change rejected: %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
