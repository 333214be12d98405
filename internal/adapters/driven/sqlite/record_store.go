package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.RecordStore = (*RecordStore)(nil)

// RecordStore implements driven.RecordStore on SQLite. Versions are
// stored as RFC3339Nano TEXT; because every version is UTC and
// microsecond-truncated the formatting is deterministic, so string
// equality in the Put WHERE clause is version equality.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new RecordStore
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

const recordColumns = `id, entity, owner_id, fields, status, updated_at, last_sync_at, offline_id, device_id, deleted, deleted_at, created_at`

// Create inserts a new record
func (s *RecordStore) Create(ctx context.Context, rec *domain.Record) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Entity,
		rec.OwnerID,
		string(fieldsJSON),
		string(rec.Sync.Status),
		formatTime(rec.Sync.UpdatedAt),
		formatNullTime(rec.Sync.LastSyncAt),
		rec.Sync.OfflineID,
		rec.Sync.DeviceID,
		rec.Deleted,
		formatNullTime(rec.DeletedAt),
		formatTime(rec.CreatedAt),
	)
	return mapError(err)
}

// Get retrieves a record by ID, including soft-deleted records
func (s *RecordStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`
	return scanRecord(s.db.QueryRowContext(ctx, query, id))
}

// GetByOfflineID retrieves the record created from an offline id on a device
func (s *RecordStore) GetByOfflineID(ctx context.Context, deviceID, offlineID string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE device_id = ? AND offline_id = ? AND offline_id <> ''`
	return scanRecord(s.db.QueryRowContext(ctx, query, deviceID, offlineID))
}

// Put atomically replaces the record iff its stored version equals
// expectedVersion
func (s *RecordStore) Put(ctx context.Context, rec *domain.Record, expectedVersion time.Time) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	query := `
		UPDATE records
		SET fields = ?, status = ?, updated_at = ?, last_sync_at = ?,
		    deleted = ?, deleted_at = ?
		WHERE id = ? AND updated_at = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(fieldsJSON),
		string(rec.Sync.Status),
		formatTime(rec.Sync.UpdatedAt),
		formatNullTime(rec.Sync.LastSyncAt),
		rec.Deleted,
		formatNullTime(rec.DeletedAt),
		rec.ID,
		formatTime(expectedVersion),
	)
	if err != nil {
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Distinguish a lost version race from a missing record
		var exists bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM records WHERE id = ?)`, rec.ID).Scan(&exists)
		if err != nil {
			return mapError(err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionMismatch
	}

	return nil
}

// List retrieves records matching the filter
func (s *RecordStore) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE 1=1`
	args := []any{}

	if !filter.IncludeDeleted {
		query += " AND deleted = 0"
	}
	if filter.Entity != "" {
		query += " AND entity = ?"
		args = append(args, filter.Entity)
	}
	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the number of records matching the filter
func (s *RecordStore) Count(ctx context.Context, filter domain.RecordFilter) (int, error) {
	query := `SELECT COUNT(*) FROM records WHERE 1=1`
	args := []any{}

	if !filter.IncludeDeleted {
		query += " AND deleted = 0"
	}
	if filter.Entity != "" {
		query += " AND entity = ?"
		args = append(args, filter.Entity)
	}
	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// PurgeTombstones physically removes soft-deleted records past the cutoff
func (s *RecordStore) PurgeTombstones(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM records WHERE deleted = 1 AND deleted_at < ?`
	result, err := s.db.ExecContext(ctx, query, formatTime(olderThan))
	if err != nil {
		return 0, mapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// Ping checks if the store is reachable
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func scanRecord(row *sql.Row) (*domain.Record, error) {
	var rec domain.Record
	var fieldsJSON, updatedAt, createdAt string
	var lastSyncAt, deletedAt sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.Entity,
		&rec.OwnerID,
		&fieldsJSON,
		&rec.Sync.Status,
		&updatedAt,
		&lastSyncAt,
		&rec.Sync.OfflineID,
		&rec.Sync.DeviceID,
		&rec.Deleted,
		&deletedAt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	return hydrateRecord(&rec, fieldsJSON, updatedAt, createdAt, lastSyncAt, deletedAt)
}

func scanRecords(rows *sql.Rows) ([]*domain.Record, error) {
	var records []*domain.Record
	for rows.Next() {
		var rec domain.Record
		var fieldsJSON, updatedAt, createdAt string
		var lastSyncAt, deletedAt sql.NullString

		err := rows.Scan(
			&rec.ID,
			&rec.Entity,
			&rec.OwnerID,
			&fieldsJSON,
			&rec.Sync.Status,
			&updatedAt,
			&lastSyncAt,
			&rec.Sync.OfflineID,
			&rec.Sync.DeviceID,
			&rec.Deleted,
			&deletedAt,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}

		hydrated, err := hydrateRecord(&rec, fieldsJSON, updatedAt, createdAt, lastSyncAt, deletedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, hydrated)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func hydrateRecord(rec *domain.Record, fieldsJSON, updatedAt, createdAt string, lastSyncAt, deletedAt sql.NullString) (*domain.Record, error) {
	var err error
	if rec.Sync.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.Sync.LastSyncAt, err = parseNullTime(lastSyncAt); err != nil {
		return nil, fmt.Errorf("parse last_sync_at: %w", err)
	}
	if rec.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("parse deleted_at: %w", err)
	}
	rec.Sync.UpdatedAt = domain.TruncateVersion(rec.Sync.UpdatedAt)

	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}

	return rec, nil
}
