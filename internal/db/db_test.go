package db

import (
	"testing"

	"github.com/banshee-data/trackday/internal/telemetry"
)

// openTestDB opens a fresh in-memory database with the full schema
// applied.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func tableExists(t *testing.T, database *DB, name string) bool {
	t.Helper()
	var n int
	err := database.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	return n > 0
}

func TestOpenAppliesMigrations(t *testing.T) {
	database := openTestDB(t)

	for _, table := range []string{"sessions", "samples", "laps", "performance_events", "power_curve"} {
		if !tableExists(t, database, table) {
			t.Errorf("Expected table %q to exist after Open", table)
		}
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations filesystem: %v", err)
	}
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		t.Fatalf("Failed to get migration version: %v", err)
	}
	if dirty {
		t.Error("Expected clean migration state after Open")
	}

	latest, err := GetLatestMigrationVersion(migrations)
	if err != nil {
		t.Fatalf("Failed to get latest migration version: %v", err)
	}
	if version != latest {
		t.Errorf("Expected version %d after Open, got %d", latest, version)
	}
}

func TestMigrateDownAndBackUp(t *testing.T) {
	database := openTestDB(t)

	migrations, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations filesystem: %v", err)
	}

	// Roll back the analysis migration only
	if err := database.MigrateDown(migrations); err != nil {
		t.Fatalf("Migration down failed: %v", err)
	}
	if tableExists(t, database, "performance_events") {
		t.Error("Expected performance_events to be dropped after down migration")
	}
	if !tableExists(t, database, "samples") {
		t.Error("Expected samples to survive a single down migration")
	}

	if err := database.MigrateUp(migrations); err != nil {
		t.Fatalf("Migration back up failed: %v", err)
	}
	if !tableExists(t, database, "performance_events") {
		t.Error("Expected performance_events to exist after re-applying migrations")
	}
}

func TestGetLatestMigrationVersion(t *testing.T) {
	migrations, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("Failed to get migrations filesystem: %v", err)
	}

	latest, err := GetLatestMigrationVersion(migrations)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if latest < 2 {
		t.Errorf("Expected at least 2 migrations, got %d", latest)
	}
}

// TestPragmasApplied verifies that essential PRAGMAs are set on every
// connection. Needs a file-backed database because WAL does not apply
// to in-memory ones.
func TestPragmasApplied(t *testing.T) {
	database, err := Open(t.TempDir() + "/test_pragmas.db")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()

	var journalMode string
	if err := database.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := database.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := database.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("Failed to query synchronous: %v", err)
	}
	if synchronous != 1 { // 1 = NORMAL
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}

	var tempStore int
	if err := database.QueryRow("PRAGMA temp_store").Scan(&tempStore); err != nil {
		t.Fatalf("Failed to query temp_store: %v", err)
	}
	if tempStore != 2 { // 2 = MEMORY
		t.Errorf("Expected temp_store=2 (MEMORY), got %d", tempStore)
	}

	var foreignKeys int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

// TestSampleColumnsMatchRegistry verifies the samples table carries one
// column per registered channel. A failure here means a migration and
// the channel registry have drifted apart.
func TestSampleColumnsMatchRegistry(t *testing.T) {
	database := openTestDB(t)

	rows, err := database.Query("PRAGMA table_info(samples)")
	if err != nil {
		t.Fatalf("Failed to query table_info: %v", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			t.Fatalf("Failed to scan table_info row: %v", err)
		}
		columns[name] = true
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("table_info rows error: %v", err)
	}

	for _, name := range telemetry.Names() {
		if !columns[name] {
			t.Errorf("samples table is missing channel column %q", name)
		}
	}

	// fixed columns + one per channel, nothing else
	want := 7 + len(telemetry.Schema)
	if len(columns) != want {
		t.Errorf("Expected %d columns in samples, got %d", want, len(columns))
	}
}
