package driven

import (
	"context"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// RecordStore handles record persistence (PostgreSQL or SQLite).
//
// Put is the serialization primitive for concurrent reconciliation: it is an
// atomic conditional write ("apply iff stored updated_at == expected") so the
// version-check-and-apply step never loses an update to a concurrent writer.
type RecordStore interface {
	// Create inserts a new record.
	// Returns ErrAlreadyExists when the id or the (device_id, offline_id)
	// pair is already taken.
	Create(ctx context.Context, rec *domain.Record) error

	// Get retrieves a record by ID, including soft-deleted records
	Get(ctx context.Context, id string) (*domain.Record, error)

	// GetByOfflineID retrieves the record created from an offline id on a
	// device, for idempotent create detection
	GetByOfflineID(ctx context.Context, deviceID, offlineID string) (*domain.Record, error)

	// Put atomically replaces the record iff its stored version equals
	// expectedVersion. Returns ErrVersionMismatch when the stored version
	// has moved, ErrNotFound when the record does not exist.
	Put(ctx context.Context, rec *domain.Record, expectedVersion time.Time) error

	// List retrieves records matching the filter
	List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error)

	// Count returns the number of records matching the filter
	Count(ctx context.Context, filter domain.RecordFilter) (int, error)

	// PurgeTombstones physically removes soft-deleted records whose
	// deletion is older than the cutoff. Returns the number removed.
	PurgeTombstones(ctx context.Context, olderThan time.Time) (int, error)

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error
}
