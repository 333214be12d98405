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
var _ driven.SyncLogStore = (*SyncLogStore)(nil)

// SyncLogStore implements driven.SyncLogStore using PostgreSQL.
// The table is append-only; entries are never updated.
type SyncLogStore struct {
	db *DB
}

// NewSyncLogStore creates a new SyncLogStore
func NewSyncLogStore(db *DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

const syncLogColumns = `id, user_id, device_id, operation_type, status, records_affected, conflicts_count, details, error_info, duration_ns, started_at, completed_at, created_at`

// Append persists a completed sync log entry
func (s *SyncLogStore) Append(ctx context.Context, log *domain.SyncLog) error {
	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	query := `
		INSERT INTO sync_logs (` + syncLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.DeviceID,
		string(log.OperationType),
		string(log.Status),
		log.RecordsAffected,
		log.ConflictsCount,
		detailsJSON,
		log.ErrorInfo,
		int64(log.Duration),
		log.StartedAt,
		log.CompletedAt,
		log.CreatedAt,
	)
	return mapError(err)
}

// Get retrieves a sync log entry by ID
func (s *SyncLogStore) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE id = $1`

	var log domain.SyncLog
	var detailsJSON []byte
	var durationNs int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&log.ID,
		&log.UserID,
		&log.DeviceID,
		&log.OperationType,
		&log.Status,
		&log.RecordsAffected,
		&log.ConflictsCount,
		&detailsJSON,
		&log.ErrorInfo,
		&durationNs,
		&log.StartedAt,
		&log.CompletedAt,
		&log.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	log.Duration = time.Duration(durationNs)
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &log.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}

	return &log, nil
}

// List retrieves sync log entries matching the filter, newest first
func (s *SyncLogStore) List(ctx context.Context, filter domain.SyncLogFilter) ([]*domain.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE 1=1`
	args := []any{}
	argIndex := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, filter.UserID)
		argIndex++
	}
	if filter.DeviceID != "" {
		query += fmt.Sprintf(" AND device_id = $%d", argIndex)
		args = append(args, filter.DeviceID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}

	query += " ORDER BY created_at DESC"

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

	var logs []*domain.SyncLog
	for rows.Next() {
		var log domain.SyncLog
		var detailsJSON []byte
		var durationNs int64

		err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.DeviceID,
			&log.OperationType,
			&log.Status,
			&log.RecordsAffected,
			&log.ConflictsCount,
			&detailsJSON,
			&log.ErrorInfo,
			&durationNs,
			&log.StartedAt,
			&log.CompletedAt,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		log.Duration = time.Duration(durationNs)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &log.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}

		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

// Purge removes entries older than the cutoff
func (s *SyncLogStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM sync_logs WHERE created_at < $1`
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
