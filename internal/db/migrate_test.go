package db

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// newBareTestDB opens a database without applying any migrations.
func newBareTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestMigrations creates a temporary directory with two small migrations
// and returns it as an fs.FS.
func newTestMigrations(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()

	migrations := map[string]string{
		"0001_create_readings.up.sql": `
			CREATE TABLE IF NOT EXISTS readings (
				id    INTEGER PRIMARY KEY AUTOINCREMENT,
				value DOUBLE NOT NULL
			);
		`,
		"0001_create_readings.down.sql": `
			DROP TABLE IF EXISTS readings;
		`,
		"0002_add_label.up.sql": `
			ALTER TABLE readings ADD COLUMN label TEXT;
		`,
		"0002_add_label.down.sql": `
			ALTER TABLE readings DROP COLUMN label;
		`,
	}

	for filename, content := range migrations {
		if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write migration file %s: %v", filename, err)
		}
	}

	return os.DirFS(dir)
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name=?
	`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", name, err)
	}
	return exists
}

func columnExists(t *testing.T, db *DB, table, column string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name=?
	`, table, column).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check column %s.%s: %v", table, column, err)
	}
	return exists
}

func TestMigrateUp(t *testing.T) {
	db := newBareTestDB(t)
	migrationsFS := newTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}
	if dirty {
		t.Error("database should not be dirty after successful migration")
	}

	if !tableExists(t, db, "readings") {
		t.Error("readings table should exist after migration")
	}
	if !columnExists(t, db, "readings", "label") {
		t.Error("label column should exist after second migration")
	}
}

func TestMigrateUpIdempotent(t *testing.T) {
	db := newBareTestDB(t)
	migrationsFS := newTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2 after idempotent up, got %d", version)
	}
}

func TestMigrateDown(t *testing.T) {
	db := newBareTestDB(t)
	migrationsFS := newTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if err := db.MigrateDown(migrationsFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1 after down migration, got %d", version)
	}
	if dirty {
		t.Error("database should not be dirty after successful down migration")
	}

	if columnExists(t, db, "readings", "label") {
		t.Error("label column should not exist after rolling back second migration")
	}
	if !tableExists(t, db, "readings") {
		t.Error("readings table should still exist after rolling back only second migration")
	}
}

func TestMigrateVersionFreshDatabase(t *testing.T) {
	db := newBareTestDB(t)
	migrationsFS := newTestMigrations(t)

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 before migrations, got %d", version)
	}
	if dirty {
		t.Error("database should not be dirty before any migrations")
	}
}

func TestMigrateForce(t *testing.T) {
	db := newBareTestDB(t)
	migrationsFS := newTestMigrations(t)

	if err := db.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if err := db.MigrateForce(migrationsFS, 1); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1 after force, got %d", version)
	}
}

func TestNewDBAppliesEmbeddedMigrations(t *testing.T) {
	db := newTestDB(t)

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected a fresh database at version 2, got %d", version)
	}
	if dirty {
		t.Error("fresh database should not be dirty")
	}

	for _, table := range []string{"beats", "samples", "env_readings", "sweep_points"} {
		if !tableExists(t, db, table) {
			t.Errorf("%s table should exist after NewDB", table)
		}
	}
}

func TestNewDBToleratesPreVersionedSchema(t *testing.T) {
	// Databases created before schema versioning carry the tables but no
	// schema_migrations; opening them must adopt them without error.
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	_, err = legacy.Exec(`
		CREATE TABLE beats (
			bpm       DOUBLE,
			ibi_ms    BIGINT,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	if err := legacy.Close(); err != nil {
		t.Fatalf("failed to close legacy database: %v", err)
	}

	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB over legacy schema failed: %v", err)
	}
	defer db.Close()

	if !tableExists(t, db, "sweep_points") {
		t.Error("sweep_points table should exist after migrating a legacy database")
	}
}
