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
var _ driven.SchemaStore = (*SchemaStore)(nil)

// SchemaStore implements driven.SchemaStore on SQLite.
// Each row is one entity schema overlay stored as a JSON definition;
// the builtin catalog never touches this table.
type SchemaStore struct {
	db *DB
}

// NewSchemaStore creates a new SchemaStore
func NewSchemaStore(db *DB) *SchemaStore {
	return &SchemaStore{db: db}
}

// Save creates or updates an entity schema
func (s *SchemaStore) Save(ctx context.Context, schema *domain.EntitySchema) error {
	definition, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	query := `
		INSERT INTO entity_schemas (name, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, query, schema.Name, string(definition), now, now)
	return mapError(err)
}

// Get retrieves an entity schema by name
func (s *SchemaStore) Get(ctx context.Context, name string) (*domain.EntitySchema, error) {
	query := `SELECT definition FROM entity_schemas WHERE name = ?`

	var definition string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	var schema domain.EntitySchema
	if err := json.Unmarshal([]byte(definition), &schema); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return &schema, nil
}

// List retrieves all persisted entity schemas
func (s *SchemaStore) List(ctx context.Context) ([]*domain.EntitySchema, error) {
	query := `SELECT definition FROM entity_schemas ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var schemas []*domain.EntitySchema
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}

		var schema domain.EntitySchema
		if err := json.Unmarshal([]byte(definition), &schema); err != nil {
			return nil, fmt.Errorf("unmarshal schema: %w", err)
		}
		schemas = append(schemas, &schema)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return schemas, nil
}

// Delete removes a persisted entity schema
func (s *SchemaStore) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM entity_schemas WHERE name = ?`
	result, err := s.db.ExecContext(ctx, query, name)
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
