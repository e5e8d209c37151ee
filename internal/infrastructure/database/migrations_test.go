package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"0002_add_index.sql":   {Data: []byte("CREATE INDEX idx_items_name ON items(name);")},
		"0001_items.sql":       {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);")},
		"README.md":            {Data: []byte("ignored")},
		"abcd_not_version.sql": {Data: []byte("SELECT 1;")},
	}
}

func TestLoadMigrations_Ordered(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	if migrations[0].Version != "0001" || migrations[0].Name != "items" {
		t.Errorf("first migration = %+v", migrations[0])
	}
	if migrations[1].Version != "0002" {
		t.Errorf("second migration = %+v", migrations[1])
	}
}

func TestMigrate_AppliesOnceAndIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if !applied["0001"] || !applied["0002"] || len(applied) != 2 {
		t.Errorf("applied = %v", applied)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES ('x')"); err != nil {
		t.Errorf("items table missing: %v", err)
	}
}

func TestMigrate_FailureRollsBackOnlyFailingMigration(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"0001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"0002_broken.sql": {Data: []byte("CREATE TABLE broken (;")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken SQL")
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if !applied["0001"] || applied["0002"] {
		t.Errorf("applied = %v, want only 0001", applied)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in          string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"0001_state_history.sql", "0001", "state_history", true},
		{"0010_x.sql", "0010", "x", true},
		{"0001.sql", "", "", false},
		{"0001_state.txt", "", "", false},
		{"v1_state.sql", "", "", false},
		{"_state.sql", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if v != tt.wantVersion || n != tt.wantName || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v)", tt.in, v, n, ok)
			}
		})
	}
}
