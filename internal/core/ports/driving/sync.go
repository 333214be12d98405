package driving

import (
	"context"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// SyncService reconciles batches of offline mutations against the record store
type SyncService interface {
	// Reconcile applies a batch of operations and returns the per-operation
	// outcomes together with the persisted sync log entry
	Reconcile(ctx context.Context, batch *domain.SyncBatch) (*domain.SyncLog, error)

	// Resolve closes an open conflict by writing the chosen field values
	Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.Record, error)

	// ListConflicts retrieves open conflicts, scoped to an owner unless empty
	ListConflicts(ctx context.Context, ownerID string, limit, offset int) ([]*domain.ConflictView, error)

	// GetLog retrieves a single sync log entry
	GetLog(ctx context.Context, id string) (*domain.SyncLog, error)

	// ListLogs retrieves sync log entries, newest first
	ListLogs(ctx context.Context, filter domain.SyncLogFilter) ([]*domain.SyncLog, error)

	// ListDevices retrieves the devices that have synced for a user
	ListDevices(ctx context.Context, userID string) ([]*domain.Device, error)
}

// MaintenanceService runs periodic housekeeping over sync data
type MaintenanceService interface {
	// PurgeSyncLogs removes sync log entries older than the retention window
	PurgeSyncLogs(ctx context.Context, olderThan time.Time) (int, error)

	// PurgeTombstones removes soft-deleted records past the retention window
	PurgeTombstones(ctx context.Context, olderThan time.Time) (int, error)
}

// Scheduler manages periodic maintenance scheduling
type Scheduler interface {
	// Start begins the scheduler
	Start(ctx context.Context) error

	// Stop stops the scheduler
	Stop(ctx context.Context) error
}
