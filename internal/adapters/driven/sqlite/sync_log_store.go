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
var _ driven.SyncLogStore = (*SyncLogStore)(nil)

// SyncLogStore implements driven.SyncLogStore on SQLite.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.DeviceID,
		string(log.OperationType),
		string(log.Status),
		log.RecordsAffected,
		log.ConflictsCount,
		string(detailsJSON),
		log.ErrorInfo,
		int64(log.Duration),
		formatTime(log.StartedAt),
		formatTime(log.CompletedAt),
		formatTime(log.CreatedAt),
	)
	return mapError(err)
}

// Get retrieves a sync log entry by ID
func (s *SyncLogStore) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	log, err := scanSyncLog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return log, nil
}

// List retrieves sync log entries matching the filter, newest first
func (s *SyncLogStore) List(ctx context.Context, filter domain.SyncLogFilter) ([]*domain.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at DESC"

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

	var logs []*domain.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

// Purge removes entries older than the cutoff
func (s *SyncLogStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM sync_logs WHERE created_at < ?`
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

func scanSyncLog(scan func(...any) error) (*domain.SyncLog, error) {
	var log domain.SyncLog
	var detailsJSON string
	var durationNs int64
	var startedAt, completedAt, createdAt string

	err := scan(
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
		&startedAt,
		&completedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	log.Duration = time.Duration(durationNs)
	if log.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if log.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	if log.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &log.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}

	return &log, nil
}
