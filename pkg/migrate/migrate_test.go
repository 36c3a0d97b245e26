package migrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

var testMigrations = fstest.MapFS{
	"m/001_create_items.up.sql":   {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY)`)},
	"m/001_create_items.down.sql": {Data: []byte(`DROP TABLE items`)},
	"m/002_add_label.up.sql":      {Data: []byte(`ALTER TABLE items ADD COLUMN label TEXT`)},
	"m/002_add_label.down.sql":    {Data: []byte(`ALTER TABLE items DROP COLUMN label`)},
	"m/README":                    {Data: []byte("not a migration")},
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFSProviderGetMigrations(t *testing.T) {
	migrations, err := NewFSProvider(testMigrations, "m", "").GetMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migrations))
	}
	for _, m := range migrations {
		if m.Up == "" || m.Down == "" {
			t.Errorf("migration %d missing a direction: %+v", m.Version, m)
		}
		if m.Version == 2 && m.Name != "add label" {
			t.Errorf("migration 2 name = %q", m.Name)
		}
	}
}

func TestMigrateUpAndDown(t *testing.T) {
	db := openDB(t)
	var applied []int
	m := NewMigrator(db, NewFSProvider(testMigrations, "m", ""),
		WithAppliedHook(func(mg Migration, up bool) { applied = append(applied, mg.Version) }))

	if err := m.MigrateUp(); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.GetCurrentVersion(); v != 2 {
		t.Errorf("version after MigrateUp = %d, want 2", v)
	}
	if _, err := db.Exec(`INSERT INTO items (id, label) VALUES (1, 'x')`); err != nil {
		t.Errorf("schema not applied: %v", err)
	}

	// A second run is a no-op.
	if err := m.MigrateUp(); err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %v, want two migrations", applied)
	}

	if err := m.MigrateDown(1); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.GetCurrentVersion(); v != 1 {
		t.Errorf("version after MigrateDown(1) = %d, want 1", v)
	}
	pending, err := m.GetPendingMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Errorf("pending = %+v, want migration 2", pending)
	}

	if err := m.MigrateTo(0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`SELECT 1 FROM items`); err == nil {
		t.Error("items table still present after rolling back to 0")
	}
}

func TestMigrateDownRejectsForwardTarget(t *testing.T) {
	m := NewMigrator(openDB(t), NewFSProvider(testMigrations, "m", ""))
	if err := m.MigrateDown(1); err == nil {
		t.Error("MigrateDown on an empty database succeeded")
	}
}
