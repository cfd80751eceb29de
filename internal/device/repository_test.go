package device

import (
	"context"
	"errors"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/lumisync-core/internal/infrastructure/database"
	"github.com/nerrad567/lumisync-core/internal/protocol"

	_ "github.com/nerrad567/lumisync-core/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// testDevice creates a device for testing.
func testDevice(id, ip string) Device {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Device{
		ID:           id,
		IP:           netip.MustParseAddr(ip),
		Model:        "H6159",
		Capabilities: protocol.LANCapabilities,
		Port:         DefaultPort,
		Firmware:     Firmware{BLEHard: "3.01.01", WiFiSoft: "1.02.03"},
		Online:       true,
		LastSeen:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteRepository_SaveAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	a := testDevice("AA", "192.168.1.10")
	a.LastColor = &protocol.RGB{R: 255, G: 16, B: 0}
	b := testDevice("BB", "192.168.1.11")
	b.Manual = true
	b.Port = 4010
	b.Firmware = Firmware{}
	b.LastSeen = time.Time{}

	if err := repo.Save(ctx, b, 1); err != nil {
		t.Fatalf("Save(b) error = %v", err)
	}
	if err := repo.Save(ctx, a, 0); err != nil {
		t.Fatalf("Save(a) error = %v", err)
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].ID != "AA" || devices[1].ID != "BB" {
		t.Errorf("List() order = %s,%s; want AA,BB", devices[0].ID, devices[1].ID)
	}

	got := devices[0]
	if got.IP != a.IP || got.Model != a.Model || got.Capabilities != a.Capabilities {
		t.Errorf("identity round trip = %+v", got)
	}
	if got.Firmware != a.Firmware {
		t.Errorf("Firmware = %+v, want %+v", got.Firmware, a.Firmware)
	}
	if got.LastColor == nil || *got.LastColor != *a.LastColor {
		t.Errorf("LastColor = %v, want %v", got.LastColor, a.LastColor)
	}
	if !got.LastSeen.Equal(a.LastSeen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, a.LastSeen)
	}
	if got.Online {
		t.Error("Online should not be persisted")
	}

	manual := devices[1]
	if !manual.Manual || manual.Port != 4010 || !manual.LastSeen.IsZero() || manual.LastColor != nil {
		t.Errorf("manual device round trip = %+v", manual)
	}
}

func TestSQLiteRepository_SaveUpdates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	d := testDevice("AA", "192.168.1.10")
	if err := repo.Save(ctx, d, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	d.Firmware.WiFiSoft = "2.00.00"
	if err := repo.Save(ctx, d, 0); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Firmware.WiFiSoft != "2.00.00" {
		t.Errorf("List() = %+v, want one updated device", devices)
	}
}

func TestSQLiteRepository_DuplicateAddress(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.Save(ctx, testDevice("AA", "192.168.1.10"), 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	err := repo.Save(ctx, testDevice("BB", "192.168.1.10"), 1)
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Save() duplicate ip error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_SaveInvalid(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)

	if err := repo.Save(context.Background(), Device{ID: "AA"}, 0); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Save() error = %v, want ErrInvalidDevice", err)
	}
}

func TestSQLiteRepository_SaveAll(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.Save(ctx, testDevice("OLD", "192.168.1.99"), 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Address swap between two IDs must not trip the unique constraint.
	first := []Device{testDevice("AA", "192.168.1.10"), testDevice("BB", "192.168.1.11")}
	if err := repo.SaveAll(ctx, first); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	swapped := []Device{testDevice("BB", "192.168.1.10"), testDevice("AA", "192.168.1.11")}
	if err := repo.SaveAll(ctx, swapped); err != nil {
		t.Fatalf("SaveAll() swap error = %v", err)
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].ID != "BB" || devices[0].IP.String() != "192.168.1.10" {
		t.Errorf("first device = %s@%s, want BB@192.168.1.10", devices[0].ID, devices[0].IP)
	}
}

func TestSQLiteRepository_SaveAllRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.Save(ctx, testDevice("AA", "192.168.1.10"), 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	bad := []Device{testDevice("BB", "192.168.1.20"), testDevice("CC", "192.168.1.20")}
	if err := repo.SaveAll(ctx, bad); err == nil {
		t.Fatal("SaveAll() expected duplicate address error")
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "AA" {
		t.Errorf("failed SaveAll changed the cache: %+v", devices)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	if err := repo.Save(ctx, testDevice("AA", "192.168.1.10"), 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Delete(ctx, "AA"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "AA"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_State(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	got, err := repo.GetState(ctx, stateKeySelected)
	if err != nil || got != "" {
		t.Errorf("GetState() unset = %q, %v; want empty", got, err)
	}

	for _, v := range []string{"AA", "BB"} {
		if err := repo.SetState(ctx, stateKeySelected, v); err != nil {
			t.Fatalf("SetState() error = %v", err)
		}
	}
	got, err = repo.GetState(ctx, stateKeySelected)
	if err != nil || got != "BB" {
		t.Errorf("GetState() = %q, %v; want BB", got, err)
	}
}

func TestRegistry_WithSQLiteRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	reg := NewRegistry(repo, Config{})
	if _, err := reg.Upsert(ctx, discovered("AA", "192.168.1.10", "H6159")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := reg.AddManual(ctx, ManualDevice{IP: "192.168.1.23"}); err != nil {
		t.Fatalf("AddManual() error = %v", err)
	}
	if err := reg.Select(ctx, "00:00:192:168:01:23"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if err := reg.MarkDiscovered(ctx, time.Now()); err != nil {
		t.Fatalf("MarkDiscovered() error = %v", err)
	}

	restored := NewRegistry(repo, Config{})
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	list := restored.List()
	if len(list) != 2 || list[0].ID != "AA" || !list[1].Manual {
		t.Errorf("restored list = %+v", list)
	}
	if sel, ok := restored.Selected(); !ok || sel.ID != "00:00:192:168:01:23" {
		t.Errorf("Selected() = %v, %v", sel, ok)
	}
	if restored.Stale(time.Hour) {
		t.Error("restored registry should not be stale")
	}
}

func TestIsUniqueConstraintError(t *testing.T) {
	if isUniqueConstraintError(nil) {
		t.Error("nil is not a constraint error")
	}
	if !isUniqueConstraintError(errors.New("UNIQUE constraint failed: devices.ip")) {
		t.Error("sqlite unique message not recognised")
	}
	if isUniqueConstraintError(errors.New("disk I/O error")) {
		t.Error("unrelated error recognised as constraint error")
	}
}
