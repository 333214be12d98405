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
var _ driven.ConflictStore = (*ConflictStore)(nil)

// ConflictStore implements driven.ConflictStore using PostgreSQL.
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
				`DELETE FROM conflicts WHERE record_id = $1 AND resolved_at IS NULL`,
				conflict.RecordID,
			)
			if err != nil {
				return mapError(err)
			}
		}

		query := `
			INSERT INTO conflicts (` + conflictColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`
		_, err := tx.ExecContext(ctx, query,
			conflict.ID,
			conflict.RecordID,
			conflict.Entity,
			conflict.OwnerID,
			conflict.UserID,
			conflict.DeviceID,
			string(conflict.Kind),
			conflict.BaseVersion,
			proposedJSON,
			conflict.ProposedMutatedAt,
			storedJSON,
			conflict.StoredVersion,
			conflict.CreatedAt,
			NullTime(conflict.ResolvedAt),
			conflict.ResolvedBy,
		)
		return mapError(err)
	})
}

// GetOpen retrieves the unresolved conflict for a record
func (s *ConflictStore) GetOpen(ctx context.Context, recordID string) (*domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE record_id = $1 AND resolved_at IS NULL`
	return s.scanConflict(s.db.QueryRowContext(ctx, query, recordID))
}

// ListOpen retrieves unresolved conflicts, newest first
func (s *ConflictStore) ListOpen(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE resolved_at IS NULL`
	args := []any{}
	argIndex := 1

	if ownerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIndex)
		args = append(args, ownerID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var conflicts []*domain.Conflict
	for rows.Next() {
		conflict, err := s.scanConflictRow(rows)
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
		SET resolved_at = $2, resolved_by = $3
		WHERE record_id = $1 AND resolved_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, recordID, resolvedAt, resolvedBy)
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

func (s *ConflictStore) scanConflict(row *sql.Row) (*domain.Conflict, error) {
	var c domain.Conflict
	var proposedJSON, storedJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.RecordID,
		&c.Entity,
		&c.OwnerID,
		&c.UserID,
		&c.DeviceID,
		&c.Kind,
		&c.BaseVersion,
		&proposedJSON,
		&c.ProposedMutatedAt,
		&storedJSON,
		&c.StoredVersion,
		&c.CreatedAt,
		&resolvedAt,
		&c.ResolvedBy,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	c.ResolvedAt = TimePtr(resolvedAt)
	if err := unmarshalConflictFields(&c, proposedJSON, storedJSON); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ConflictStore) scanConflictRow(rows *sql.Rows) (*domain.Conflict, error) {
	var c domain.Conflict
	var proposedJSON, storedJSON []byte
	var resolvedAt sql.NullTime

	err := rows.Scan(
		&c.ID,
		&c.RecordID,
		&c.Entity,
		&c.OwnerID,
		&c.UserID,
		&c.DeviceID,
		&c.Kind,
		&c.BaseVersion,
		&proposedJSON,
		&c.ProposedMutatedAt,
		&storedJSON,
		&c.StoredVersion,
		&c.CreatedAt,
		&resolvedAt,
		&c.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}

	c.ResolvedAt = TimePtr(resolvedAt)
	if err := unmarshalConflictFields(&c, proposedJSON, storedJSON); err != nil {
		return nil, err
	}
	return &c, nil
}

func unmarshalConflictFields(c *domain.Conflict, proposedJSON, storedJSON []byte) error {
	if len(proposedJSON) > 0 && string(proposedJSON) != "null" {
		if err := json.Unmarshal(proposedJSON, &c.ProposedFields); err != nil {
			return fmt.Errorf("unmarshal proposed fields: %w", err)
		}
	}
	if len(storedJSON) > 0 && string(storedJSON) != "null" {
		if err := json.Unmarshal(storedJSON, &c.StoredFields); err != nil {
			return fmt.Errorf("unmarshal stored fields: %w", err)
		}
	}
	c.BaseVersion = domain.TruncateVersion(c.BaseVersion)
	c.StoredVersion = domain.TruncateVersion(c.StoredVersion)
	return nil
}
