package domain

import "time"

// ConflictPolicy selects how divergent updates are resolved
type ConflictPolicy string

const (
	// PolicyLastWriterWins keeps whichever of (stored, incoming) carries
	// the later mutation timestamp; the loser is preserved for audit
	PolicyLastWriterWins ConflictPolicy = "last_writer_wins"
	// PolicyManual holds the incoming update aside and leaves the record
	// in conflict state until an explicit resolution
	PolicyManual ConflictPolicy = "manual"
)

// Valid reports whether the policy is one of the defined policies
func (p ConflictPolicy) Valid() bool {
	return p == PolicyLastWriterWins || p == PolicyManual
}

// OpKind identifies the kind of a batch operation
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether the kind is one of the defined kinds
func (k OpKind) Valid() bool {
	return k == OpCreate || k == OpUpdate || k == OpDelete
}

// Operation is one offline mutation inside a sync batch
type Operation struct {
	// Kind is create, update or delete
	Kind OpKind `json:"kind"`

	// RecordID identifies the target record (required for update/delete)
	RecordID string `json:"record_id,omitempty"`

	// OfflineID is the client-generated correlation id (required for create)
	OfflineID string `json:"offline_id,omitempty"`

	// Entity is the entity type for created records
	Entity string `json:"entity,omitempty"`

	// BaseVersion is the stored version the client believes is current.
	// Required for update/delete, must be absent for create.
	BaseVersion *time.Time `json:"base_version,omitempty"`

	// MutatedAt is the client-side mutation timestamp; it becomes the new
	// version when the write is applied. Zero falls back to SubmittedAt.
	MutatedAt time.Time `json:"mutated_at,omitempty"`

	// Payload holds the entity fields (required for create/update)
	Payload map[string]any `json:"payload,omitempty"`
}

// SyncBatch is a unit of reconciliation work submitted by one device
type SyncBatch struct {
	UserID      string      `json:"user_id"`
	DeviceID    string      `json:"device_id"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Operations  []Operation `json:"operations"`

	// Policy optionally overrides the server's configured conflict policy
	Policy ConflictPolicy `json:"policy,omitempty"`
}

// Outcome classifies the result of one batch operation
type Outcome string

const (
	// OutcomeApplied means the store was mutated as requested
	OutcomeApplied Outcome = "applied"
	// OutcomeConflict means the stored version diverged from base_version
	OutcomeConflict Outcome = "conflict"
	// OutcomeDuplicateIgnored means a retried create matched an existing
	// record and was skipped
	OutcomeDuplicateIgnored Outcome = "duplicate_ignored"
	// OutcomeStaleIgnored means the store already reflects this write or a
	// newer one; the operation was silently dropped
	OutcomeStaleIgnored Outcome = "stale_ignored"
	// OutcomeError means the operation failed (record missing, bad payload)
	OutcomeError Outcome = "error"
)

// ConflictWinner identifies which side a last-writer-wins conflict kept
type ConflictWinner string

const (
	WinnerIncoming ConflictWinner = "incoming"
	WinnerStored   ConflictWinner = "stored"
)

// OperationResult is the per-operation outcome recorded in sync_details
type OperationResult struct {
	Index     int     `json:"index"`
	Kind      OpKind  `json:"kind"`
	RecordID  string  `json:"record_id,omitempty"`
	OfflineID string  `json:"offline_id,omitempty"`
	Outcome   Outcome `json:"outcome"`

	// Winner is set for last_writer_wins conflicts
	Winner ConflictWinner `json:"winner,omitempty"`

	// Error holds the failure reason for error outcomes
	Error string `json:"error,omitempty"`
}

// SyncOperationType identifies what produced a sync log entry
type SyncOperationType string

const (
	SyncOpBatch   SyncOperationType = "batch"
	SyncOpResolve SyncOperationType = "resolve"
)

// SyncLogStatus is the overall result of one reconciliation attempt
type SyncLogStatus string

const (
	SyncLogSuccess SyncLogStatus = "success"
	SyncLogFailed  SyncLogStatus = "failed"
	SyncLogPartial SyncLogStatus = "partial"
)

// SyncLog is the append-only audit record of one reconciliation attempt.
// Exactly one is written per batch; it is never mutated after completion.
type SyncLog struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	DeviceID        string            `json:"device_id"`
	OperationType   SyncOperationType `json:"operation_type"`
	Status          SyncLogStatus     `json:"status"`
	RecordsAffected int               `json:"records_affected"`
	ConflictsCount  int               `json:"conflicts_count"`
	Details         []OperationResult `json:"sync_details"`
	ErrorInfo       string            `json:"error_info,omitempty"`
	Duration        time.Duration     `json:"duration"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	CreatedAt       time.Time         `json:"created_at"`
}

// SyncLogFilter selects sync log entries for listing
type SyncLogFilter struct {
	UserID   string
	DeviceID string
	Status   SyncLogStatus
	Since    *time.Time
	Limit    int
	Offset   int
}

// Conflict is a held divergent update awaiting manual resolution.
// At most one unresolved conflict exists per record; a newer conflicting
// operation replaces the held proposal.
type Conflict struct {
	ID       string `json:"id"`
	RecordID string `json:"record_id"`
	Entity   string `json:"entity"`
	OwnerID  string `json:"owner_id"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`

	// Kind is the operation kind that diverged (update or delete)
	Kind OpKind `json:"kind"`

	// BaseVersion is the version the client mutated against
	BaseVersion time.Time `json:"base_version"`

	// ProposedFields is the held client payload (nil for deletes)
	ProposedFields map[string]any `json:"proposed_fields,omitempty"`

	// ProposedMutatedAt is the client's mutation timestamp
	ProposedMutatedAt time.Time `json:"proposed_mutated_at"`

	// StoredFields and StoredVersion capture the server side at detection
	StoredFields  map[string]any `json:"stored_fields,omitempty"`
	StoredVersion time.Time      `json:"stored_version"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Resolved reports whether the conflict has been resolved
func (c *Conflict) Resolved() bool {
	return c.ResolvedAt != nil
}

// ConflictView pairs a held conflict with the record's current payload,
// as returned by the conflicts listing API
type ConflictView struct {
	Conflict *Conflict      `json:"conflict"`
	Current  map[string]any `json:"current_fields,omitempty"`
	Version  time.Time      `json:"current_version"`
}

// ResolveRequest applies a chosen payload to a record in conflict state
type ResolveRequest struct {
	RecordID     string         `json:"record_id"`
	ChosenFields map[string]any `json:"chosen_fields"`
	ResolvedBy   string         `json:"-"`
}

// Device tracks per-(user, device) sync bookkeeping, upserted on every batch
type Device struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	DeviceID         string     `json:"device_id"`
	Platform         string     `json:"platform,omitempty"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	LastSeenAt       time.Time  `json:"last_seen_at"`
	BatchesSubmitted int        `json:"batches_submitted"`
	CreatedAt        time.Time  `json:"created_at"`
}
