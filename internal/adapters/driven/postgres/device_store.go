package postgres

import (
	"context"
	"database/sql"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DeviceStore = (*DeviceStore)(nil)

// DeviceStore implements driven.DeviceStore using PostgreSQL
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			platform = EXCLUDED.platform,
			last_sync_at = EXCLUDED.last_sync_at,
			last_seen_at = EXCLUDED.last_seen_at,
			batches_submitted = EXCLUDED.batches_submitted
	`

	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.UserID,
		device.DeviceID,
		device.Platform,
		NullTime(device.LastSyncAt),
		device.LastSeenAt,
		device.BatchesSubmitted,
		device.CreatedAt,
	)
	return mapError(err)
}

// Get retrieves a device by user and device id
func (s *DeviceStore) Get(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	query := `
		SELECT id, user_id, device_id, platform, last_sync_at, last_seen_at, batches_submitted, created_at
		FROM devices
		WHERE user_id = $1 AND device_id = $2
	`

	var device domain.Device
	var lastSyncAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, userID, deviceID).Scan(
		&device.ID,
		&device.UserID,
		&device.DeviceID,
		&device.Platform,
		&lastSyncAt,
		&device.LastSeenAt,
		&device.BatchesSubmitted,
		&device.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	device.LastSyncAt = TimePtr(lastSyncAt)
	return &device, nil
}

// ListByUser retrieves all devices for a user
func (s *DeviceStore) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	query := `
		SELECT id, user_id, device_id, platform, last_sync_at, last_seen_at, batches_submitted, created_at
		FROM devices
		WHERE user_id = $1
		ORDER BY last_seen_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		var lastSyncAt sql.NullTime

		err := rows.Scan(
			&device.ID,
			&device.UserID,
			&device.DeviceID,
			&device.Platform,
			&lastSyncAt,
			&device.LastSeenAt,
			&device.BatchesSubmitted,
			&device.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		device.LastSyncAt = TimePtr(lastSyncAt)
		devices = append(devices, &device)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return devices, nil
}
