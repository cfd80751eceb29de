package database

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"
)

var testMigrations = fstest.MapFS{
	"20260301_120000_lamps.up.sql":      {Data: []byte("CREATE TABLE test_lamps (id TEXT PRIMARY KEY, ip TEXT NOT NULL);")},
	"20260301_120000_lamps.down.sql":    {Data: []byte("DROP TABLE test_lamps;")},
	"20260302_090000_lamp_sku.up.sql":   {Data: []byte("ALTER TABLE test_lamps ADD COLUMN sku TEXT;")},
	"20260302_090000_lamp_sku.down.sql": {Data: []byte("ALTER TABLE test_lamps DROP COLUMN sku;")},
	"README.md":                         {Data: []byte("not a migration")},
}

func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, "."
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO test_lamps (id, ip, sku) VALUES ('a', '10.0.0.2', 'H6199')"); err != nil {
		t.Fatalf("migrated schema unusable: %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20260301_120000" {
		t.Errorf("applied = %+v, want only 20260301_120000", applied)
	}
	if len(pending) != 1 || pending[0].Name != "lamp_sku" {
		t.Errorf("pending = %+v, want lamp_sku", pending)
	}
}

func TestMigrateDown_NothingApplied(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)

	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() on empty database error = %v", err)
	}
}

func TestMigrate_NoFilesystem(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() without migrations error = %v", err)
	}
}

func TestMigrate_BadSQLStops(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260301_120000_good.up.sql": {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260302_120000_bad.up.sql":  {Data: []byte("CREATE TABLE (;")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for bad SQL")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1/1", len(applied), len(pending))
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260301_120000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})

	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() expected error for orphan down file")
	}
}

func TestMigrate_DetectsEditedMigration(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied[0].Checksum) != 64 {
		t.Errorf("Checksum = %q, want a sha256 hex digest", applied[0].Checksum)
	}

	edited := fstest.MapFS{}
	for name, file := range testMigrations {
		edited[name] = file
	}
	edited["20260301_120000_lamps.up.sql"] = &fstest.MapFile{
		Data: []byte("CREATE TABLE test_lamps (id TEXT PRIMARY KEY, ip TEXT);"),
	}
	useMigrations(t, edited)

	if err := db.Migrate(ctx); !errors.Is(err, ErrMigrationChanged) {
		t.Errorf("Migrate() error = %v, want ErrMigrationChanged", err)
	}
}

func TestParseMigrationFile(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOK   bool
	}{
		{"20260301_120000_devices.up.sql", migrationFile{"20260301_120000", "devices", true}, true},
		{"20260301_120000_selected_device.down.sql", migrationFile{"20260301_120000", "selected_device", false}, true},
		{"20260301_120000.up.sql", migrationFile{"20260301_120000", "", true}, true},
		{"readme.txt", migrationFile{}, false},
		{"20260301_120000_devices.sql", migrationFile{}, false},
		{"devices.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		got, ok := parseMigrationFile(tt.filename)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseMigrationFile(%q) = (%+v, %v), want (%+v, %v)", tt.filename, got, ok, tt.want, tt.wantOK)
		}
	}
}
