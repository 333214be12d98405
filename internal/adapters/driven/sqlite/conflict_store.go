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
var _ driven.ConflictStore = (*ConflictStore)(nil)

// ConflictStore implements driven.ConflictStore on SQLite.
// A partial unique index on (record_id) WHERE resolved_at IS NULL keeps
// at most one open conflict per record.
type ConflictStore struct {
	db *DB
}

// NewConflictStore creates a new ConflictStore
func NewConflictStore(db *DB) *ConflictStore {
	return &ConflictStore{db: db}
}

const conflictColumns = `id, record_id, entity, owner_id, user_id, device_id, kind, base_version, proposed_fields, proposed_mutated_at, stored_fields, stored_version, created_at, resolved_at, resolved_by`

// Save creates or replaces the open conflict for a record.
// Pre-resolved rows (last_writer_wins audit entries) insert directly;
// open rows replace any existing open conflict for the same record.
func (s *ConflictStore) Save(ctx context.Context, conflict *domain.Conflict) error {
	proposedJSON, err := json.Marshal(conflict.ProposedFields)
	if err != nil {
		return fmt.Errorf("marshal proposed fields: %w", err)
	}
	storedJSON, err := json.Marshal(conflict.StoredFields)
	if err != nil {
		return fmt.Errorf("marshal stored fields: %w", err)
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if !conflict.Resolved() {
			// A newer divergent operation replaces the held proposal
			_, err := tx.ExecContext(ctx,
				`DELETE FROM conflicts WHERE record_id = ? AND resolved_at IS NULL`,
				conflict.RecordID,
			)
			if err != nil {
				return mapError(err)
			}
		}

		query := `
			INSERT INTO conflicts (` + conflictColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			conflict.ID,
			conflict.RecordID,
			conflict.Entity,
			conflict.OwnerID,
			conflict.UserID,
			conflict.DeviceID,
			string(conflict.Kind),
			formatTime(conflict.BaseVersion),
			string(proposedJSON),
			formatTime(conflict.ProposedMutatedAt),
			string(storedJSON),
			formatTime(conflict.StoredVersion),
			formatTime(conflict.CreatedAt),
			formatNullTime(conflict.ResolvedAt),
			conflict.ResolvedBy,
		)
		return mapError(err)
	})
}

// GetOpen retrieves the unresolved conflict for a record
func (s *ConflictStore) GetOpen(ctx context.Context, recordID string) (*domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE record_id = ? AND resolved_at IS NULL`

	row := s.db.QueryRowContext(ctx, query, recordID)
	conflict, err := scanConflict(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return conflict, nil
}

// ListOpen retrieves unresolved conflicts, newest first
func (s *ConflictStore) ListOpen(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE resolved_at IS NULL`
	args := []any{}

	if ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var conflicts []*domain.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return conflicts, nil
}

// MarkResolved closes the open conflict for a record
func (s *ConflictStore) MarkResolved(ctx context.Context, recordID, resolvedBy string, resolvedAt time.Time) error {
	query := `
		UPDATE conflicts
		SET resolved_at = ?, resolved_by = ?
		WHERE record_id = ? AND resolved_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, formatTime(resolvedAt), resolvedBy, recordID)
	if err != nil {
		return mapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func scanConflict(scan func(...any) error) (*domain.Conflict, error) {
	var c domain.Conflict
	var proposedJSON, storedJSON sql.NullString
	var baseVersion, proposedMutatedAt, storedVersion, createdAt string
	var resolvedAt sql.NullString

	err := scan(
		&c.ID,
		&c.RecordID,
		&c.Entity,
		&c.OwnerID,
		&c.UserID,
		&c.DeviceID,
		&c.Kind,
		&baseVersion,
		&proposedJSON,
		&proposedMutatedAt,
		&storedJSON,
		&storedVersion,
		&createdAt,
		&resolvedAt,
		&c.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if c.BaseVersion, err = parseTime(baseVersion); err != nil {
		return nil, fmt.Errorf("parse base_version: %w", err)
	}
	if c.ProposedMutatedAt, err = parseTime(proposedMutatedAt); err != nil {
		return nil, fmt.Errorf("parse proposed_mutated_at: %w", err)
	}
	if c.StoredVersion, err = parseTime(storedVersion); err != nil {
		return nil, fmt.Errorf("parse stored_version: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("parse resolved_at: %w", err)
	}

	if proposedJSON.Valid && proposedJSON.String != "" && proposedJSON.String != "null" {
		if err := json.Unmarshal([]byte(proposedJSON.String), &c.ProposedFields); err != nil {
			return nil, fmt.Errorf("unmarshal proposed fields: %w", err)
		}
	}
	if storedJSON.Valid && storedJSON.String != "" && storedJSON.String != "null" {
		if err := json.Unmarshal([]byte(storedJSON.String), &c.StoredFields); err != nil {
			return nil, fmt.Errorf("unmarshal stored fields: %w", err)
		}
	}

	c.BaseVersion = domain.TruncateVersion(c.BaseVersion)
	c.StoredVersion = domain.TruncateVersion(c.StoredVersion)
	return &c, nil
}
