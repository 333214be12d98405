package domain

import "time"

// SyncStatus tracks where a record stands in the offline sync lifecycle
type SyncStatus string

const (
	// SyncStatusSynced means the stored payload is the reconciled truth
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusPending means a local mutation has not been reconciled yet
	// (set client-side; the server only ever stores synced or conflict)
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusConflict means a divergent update is held awaiting resolution
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncMeta carries the sync bookkeeping attached to every record
type SyncMeta struct {
	Status     SyncStatus `json:"status"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// OfflineID correlates a record created on a disconnected device with
	// its server-assigned identity. Unique per (DeviceID, OfflineID).
	// Empty for records created online.
	OfflineID string `json:"offline_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// Record is a single persisted domain entity (farm, plot, livestock, ...).
// The payload is an opaque field map validated against the schema registry;
// the reconciler only reads the sync metadata.
type Record struct {
	ID      string         `json:"id"`
	Entity  string         `json:"entity"`
	OwnerID string         `json:"owner_id"`
	Fields  map[string]any `json:"fields"`
	Sync    SyncMeta       `json:"sync"`

	// Soft delete tombstone. Deleted records keep their version history so
	// stale updates cannot resurrect them.
	Deleted   bool       `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Version returns the record's current version. Versions are updated_at
// timestamps truncated to microseconds so they round-trip through
// TIMESTAMPTZ columns exactly.
func (r *Record) Version() time.Time {
	return r.Sync.UpdatedAt
}

// IsConflict reports whether the record is awaiting conflict resolution
func (r *Record) IsConflict() bool {
	return r.Sync.Status == SyncStatusConflict
}

// TruncateVersion normalizes a timestamp to version precision
func TruncateVersion(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// RecordFilter selects records for list and count queries
type RecordFilter struct {
	// Entity filters by entity type (optional, empty means all)
	Entity string

	// OwnerID filters by owning user (optional, empty means all)
	OwnerID string

	// Status filters by sync status (optional, empty means all)
	Status SyncStatus

	// IncludeDeleted includes soft-deleted records
	IncludeDeleted bool

	// Limit is the maximum number of records to return
	Limit int

	// Offset is the number of records to skip (for pagination)
	Offset int
}
