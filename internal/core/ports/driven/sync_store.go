package driven

import (
	"context"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// SyncLogStore handles the append-only reconciliation audit log
type SyncLogStore interface {
	// Append persists a completed sync log entry
	Append(ctx context.Context, log *domain.SyncLog) error

	// Get retrieves a sync log entry by ID
	Get(ctx context.Context, id string) (*domain.SyncLog, error)

	// List retrieves sync log entries matching the filter, newest first
	List(ctx context.Context, filter domain.SyncLogFilter) ([]*domain.SyncLog, error)

	// Purge removes entries older than the cutoff. Returns the number removed.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// ConflictStore holds divergent updates awaiting manual resolution
type ConflictStore interface {
	// Save creates or replaces the open conflict for a record.
	// A record has at most one open conflict; a newer divergent operation
	// overwrites the held proposal.
	Save(ctx context.Context, conflict *domain.Conflict) error

	// GetOpen retrieves the unresolved conflict for a record
	GetOpen(ctx context.Context, recordID string) (*domain.Conflict, error)

	// ListOpen retrieves unresolved conflicts, newest first, optionally
	// scoped to the records' owner
	ListOpen(ctx context.Context, ownerID string, limit, offset int) ([]*domain.Conflict, error)

	// MarkResolved closes the open conflict for a record
	MarkResolved(ctx context.Context, recordID, resolvedBy string, resolvedAt time.Time) error
}

// DeviceStore tracks per-(user, device) sync bookkeeping
type DeviceStore interface {
	// Upsert creates or updates the device row after a sync batch
	Upsert(ctx context.Context, device *domain.Device) error

	// Get retrieves a device by user and device id
	Get(ctx context.Context, userID, deviceID string) (*domain.Device, error)

	// ListByUser retrieves all devices for a user
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)
}
