package driving

import (
	"context"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// CreateRecordRequest represents a request to create a record through the API
type CreateRecordRequest struct {
	Entity  string         `json:"entity"`
	OwnerID string         `json:"owner_id,omitempty"`
	Fields  map[string]any `json:"fields"`
}

// UpdateRecordRequest represents a request to update a record through the API.
// BaseVersion must match the stored version for the write to be accepted.
type UpdateRecordRequest struct {
	Fields      map[string]any `json:"fields"`
	BaseVersion time.Time      `json:"base_version"`
}

// RecordService manages records created and edited through the online API
type RecordService interface {
	// Create validates the fields against the entity schema and stores
	// a new record stamped with a server version
	Create(ctx context.Context, actor *domain.AuthContext, req CreateRecordRequest) (*domain.Record, error)

	// Get retrieves a record visible to the actor
	Get(ctx context.Context, actor *domain.AuthContext, id string) (*domain.Record, error)

	// Update applies field changes under optimistic concurrency
	Update(ctx context.Context, actor *domain.AuthContext, id string, req UpdateRecordRequest) (*domain.Record, error)

	// Delete soft-deletes a record under optimistic concurrency
	Delete(ctx context.Context, actor *domain.AuthContext, id string, baseVersion time.Time) error

	// List retrieves records matching the filter, scoped to the actor's visibility
	List(ctx context.Context, actor *domain.AuthContext, filter domain.RecordFilter) ([]*domain.Record, int, error)
}
