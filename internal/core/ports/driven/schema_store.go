package driven

import (
	"context"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// SchemaStore persists registry overlays: entity schemas added or changed
// at runtime, layered over the embedded builtin catalog at boot
type SchemaStore interface {
	// Save creates or updates an entity schema
	Save(ctx context.Context, schema *domain.EntitySchema) error

	// Get retrieves an entity schema by name
	Get(ctx context.Context, name string) (*domain.EntitySchema, error)

	// List retrieves all persisted entity schemas
	List(ctx context.Context) ([]*domain.EntitySchema, error)

	// Delete removes a persisted entity schema
	Delete(ctx context.Context, name string) error
}
