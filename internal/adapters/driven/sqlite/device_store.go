package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DeviceStore = (*DeviceStore)(nil)

// DeviceStore implements driven.DeviceStore on SQLite
type DeviceStore struct {
	db *DB
}

// NewDeviceStore creates a new DeviceStore
func NewDeviceStore(db *DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Upsert creates or updates the device row after a sync batch
func (s *DeviceStore) Upsert(ctx context.Context, device *domain.Device) error {
	query := `
		INSERT INTO devices (id, user_id, device_id, platform, last_sync_at, last_seen_at, batches_submitted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			platform = excluded.platform,
			last_sync_at = excluded.last_sync_at,
			last_seen_at = excluded.last_seen_at,
			batches_submitted = excluded.batches_submitted
	`

	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.UserID,
		device.DeviceID,
		device.Platform,
		formatNullTime(device.LastSyncAt),
		formatTime(device.LastSeenAt),
		device.BatchesSubmitted,
		formatTime(device.CreatedAt),
	)
	return mapError(err)
}

// Get retrieves a device by user and device id
func (s *DeviceStore) Get(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	query := `
		SELECT id, user_id, device_id, platform, last_sync_at, last_seen_at, batches_submitted, created_at
		FROM devices
		WHERE user_id = ? AND device_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, userID, deviceID)
	device, err := scanDevice(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return device, nil
}

// ListByUser retrieves all devices for a user
func (s *DeviceStore) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	query := `
		SELECT id, user_id, device_id, platform, last_sync_at, last_seen_at, batches_submitted, created_at
		FROM devices
		WHERE user_id = ?
		ORDER BY last_seen_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		device, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return devices, nil
}

func scanDevice(scan func(...any) error) (*domain.Device, error) {
	var device domain.Device
	var lastSyncAt sql.NullString
	var lastSeenAt, createdAt string

	err := scan(
		&device.ID,
		&device.UserID,
		&device.DeviceID,
		&device.Platform,
		&lastSyncAt,
		&lastSeenAt,
		&device.BatchesSubmitted,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if device.LastSyncAt, err = parseNullTime(lastSyncAt); err != nil {
		return nil, fmt.Errorf("parse last_sync_at: %w", err)
	}
	if device.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, fmt.Errorf("parse last_seen_at: %w", err)
	}
	if device.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &device, nil
}
