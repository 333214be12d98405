package postgres

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

// RecordStore implements driven.RecordStore using PostgreSQL.
// Versions are the updated_at column compared for exact equality;
// Put is a single conditional UPDATE so concurrent reconcilers
// cannot both win the same version.
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Entity,
		rec.OwnerID,
		fieldsJSON,
		string(rec.Sync.Status),
		rec.Sync.UpdatedAt,
		NullTime(rec.Sync.LastSyncAt),
		rec.Sync.OfflineID,
		rec.Sync.DeviceID,
		rec.Deleted,
		NullTime(rec.DeletedAt),
		rec.CreatedAt,
	)
	return mapError(err)
}

// Get retrieves a record by ID, including soft-deleted records
func (s *RecordStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, id))
}

// GetByOfflineID retrieves the record created from an offline id on a device
func (s *RecordStore) GetByOfflineID(ctx context.Context, deviceID, offlineID string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE device_id = $1 AND offline_id = $2 AND offline_id <> ''`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, deviceID, offlineID))
}

// Put atomically replaces the record iff its stored version equals
// expectedVersion. The WHERE clause carries the version check so the
// compare and the write are one statement.
func (s *RecordStore) Put(ctx context.Context, rec *domain.Record, expectedVersion time.Time) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	query := `
		UPDATE records
		SET fields = $3, status = $4, updated_at = $5, last_sync_at = $6,
		    deleted = $7, deleted_at = $8
		WHERE id = $1 AND updated_at = $2
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.ID,
		expectedVersion,
		fieldsJSON,
		string(rec.Sync.Status),
		rec.Sync.UpdatedAt,
		NullTime(rec.Sync.LastSyncAt),
		rec.Deleted,
		NullTime(rec.DeletedAt),
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
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM records WHERE id = $1)`, rec.ID).Scan(&exists)
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
	argIndex := 1

	if !filter.IncludeDeleted {
		query += " AND deleted = FALSE"
	}
	if filter.Entity != "" {
		query += fmt.Sprintf(" AND entity = $%d", argIndex)
		args = append(args, filter.Entity)
		argIndex++
	}
	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIndex)
		args = append(args, filter.OwnerID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}

	query += " ORDER BY updated_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return s.scanRecords(rows)
}

// Count returns the number of records matching the filter
func (s *RecordStore) Count(ctx context.Context, filter domain.RecordFilter) (int, error) {
	query := `SELECT COUNT(*) FROM records WHERE 1=1`
	args := []any{}
	argIndex := 1

	if !filter.IncludeDeleted {
		query += " AND deleted = FALSE"
	}
	if filter.Entity != "" {
		query += fmt.Sprintf(" AND entity = $%d", argIndex)
		args = append(args, filter.Entity)
		argIndex++
	}
	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIndex)
		args = append(args, filter.OwnerID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
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
	query := `DELETE FROM records WHERE deleted = TRUE AND deleted_at < $1`
	result, err := s.db.ExecContext(ctx, query, olderThan)
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

func (s *RecordStore) scanRecord(row *sql.Row) (*domain.Record, error) {
	var rec domain.Record
	var fieldsJSON []byte
	var lastSyncAt, deletedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.Entity,
		&rec.OwnerID,
		&fieldsJSON,
		&rec.Sync.Status,
		&rec.Sync.UpdatedAt,
		&lastSyncAt,
		&rec.Sync.OfflineID,
		&rec.Sync.DeviceID,
		&rec.Deleted,
		&deletedAt,
		&rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	rec.Sync.LastSyncAt = TimePtr(lastSyncAt)
	rec.DeletedAt = TimePtr(deletedAt)
	rec.Sync.UpdatedAt = domain.TruncateVersion(rec.Sync.UpdatedAt)

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}

	return &rec, nil
}

func (s *RecordStore) scanRecords(rows *sql.Rows) ([]*domain.Record, error) {
	var records []*domain.Record
	for rows.Next() {
		var rec domain.Record
		var fieldsJSON []byte
		var lastSyncAt, deletedAt sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&rec.Entity,
			&rec.OwnerID,
			&fieldsJSON,
			&rec.Sync.Status,
			&rec.Sync.UpdatedAt,
			&lastSyncAt,
			&rec.Sync.OfflineID,
			&rec.Sync.DeviceID,
			&rec.Deleted,
			&deletedAt,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.Sync.LastSyncAt = TimePtr(lastSyncAt)
		rec.DeletedAt = TimePtr(deletedAt)
		rec.Sync.UpdatedAt = domain.TruncateVersion(rec.Sync.UpdatedAt)

		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal fields: %w", err)
			}
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]any)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
