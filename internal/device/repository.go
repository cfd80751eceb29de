package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// Repository defines the persistence operations behind the Registry. The
// registry keeps the authoritative copy in memory; a Repository only has
// to survive restarts.
type Repository interface {
	// List returns all devices in registration order.
	List(ctx context.Context) ([]Device, error)

	// Save inserts or replaces one device at the given position.
	Save(ctx context.Context, d Device, position int) error

	// SaveAll replaces the whole cache with devices, in order.
	SaveAll(ctx context.Context, devices []Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// GetState returns a registry state value, or "" when unset.
	GetState(ctx context.Context, key string) (string, error)

	// SetState stores a registry state value.
	SetState(ctx context.Context, key, value string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, ip, port, model, ble_version_hard, ble_version_soft,
	wifi_version_hard, wifi_version_soft, capabilities, manual, last_seen,
	last_color, created_at, updated_at`

const upsertDevice = `
	INSERT INTO devices (` + deviceColumns + `, position)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		ip = excluded.ip,
		port = excluded.port,
		model = excluded.model,
		ble_version_hard = excluded.ble_version_hard,
		ble_version_soft = excluded.ble_version_soft,
		wifi_version_hard = excluded.wifi_version_hard,
		wifi_version_soft = excluded.wifi_version_soft,
		capabilities = excluded.capabilities,
		manual = excluded.manual,
		last_seen = excluded.last_seen,
		last_color = excluded.last_color,
		updated_at = excluded.updated_at,
		position = excluded.position`

// List retrieves all devices ordered by position.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY position, created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Save inserts or replaces one device.
func (r *SQLiteRepository) Save(ctx context.Context, d Device, position int) error {
	return saveDevice(ctx, r.db, d, position)
}

// SaveAll replaces the stored cache in a single transaction. Rows for
// devices not in the slice are deleted.
func (r *SQLiteRepository) SaveAll(ctx context.Context, devices []Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Clear first so an address moving between IDs cannot trip the
	// unique ip constraint mid-rewrite.
	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("clearing devices: %w", err)
	}
	for i, d := range devices {
		if err := saveDevice(ctx, tx, d, i); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing devices: %w", err)
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// GetState returns a registry state value.
func (r *SQLiteRepository) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM registry_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying registry state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a registry state value.
func (r *SQLiteRepository) SetState(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registry_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing registry state %s: %w", key, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveDevice(ctx context.Context, db execer, d Device, position int) error {
	if d.ID == "" || !d.IP.IsValid() {
		return fmt.Errorf("%w: id and ip are required", ErrInvalidDevice)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}

	var lastColor *string
	if d.LastColor != nil {
		s := d.LastColor.String()
		lastColor = &s
	}
	var lastSeen *time.Time
	if !d.LastSeen.IsZero() {
		lastSeen = &d.LastSeen
	}

	_, err := db.ExecContext(ctx, upsertDevice,
		d.ID,
		d.IP.String(),
		d.Port,
		d.Model,
		nullableString(&d.Firmware.BLEHard),
		nullableString(&d.Firmware.BLESoft),
		nullableString(&d.Firmware.WiFiHard),
		nullableString(&d.Firmware.WiFiSoft),
		d.Capabilities.Mask(),
		boolToInt(d.Manual),
		nullableTime(lastSeen),
		nullableString(lastColor),
		d.CreatedAt.UTC().Format(time.RFC3339),
		d.UpdatedAt.UTC().Format(time.RFC3339),
		position,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: address %s", ErrDeviceExists, d.IP)
		}
		return fmt.Errorf("saving device %s: %w", d.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                                    Device
		ip                                   string
		bleHard, bleSoft, wifiHard, wifiSoft sql.NullString
		caps, manual                         int
		lastSeen, lastColor                  sql.NullString
		createdAt, updatedAt                 string
	)

	if err := row.Scan(
		&d.ID, &ip, &d.Port, &d.Model,
		&bleHard, &bleSoft, &wifiHard, &wifiSoft,
		&caps, &manual, &lastSeen, &lastColor,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("parsing ip of %s: %w", d.ID, err)
	}
	d.IP = addr
	d.Capabilities = protocol.CapabilitiesFromMask(caps)
	d.Manual = manual != 0
	d.Firmware = Firmware{
		BLEHard:  bleHard.String,
		BLESoft:  bleSoft.String,
		WiFiHard: wifiHard.String,
		WiFiSoft: wifiSoft.String,
	}

	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			d.LastSeen = t
		}
	}
	if lastColor.Valid {
		if c, err := protocol.ParseRGB(lastColor.String); err == nil {
			d.LastColor = &c
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		d.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		d.UpdatedAt = t
	}

	return &d, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
