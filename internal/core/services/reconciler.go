package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driving"
	"github.com/shamba-labs/shamba-core/internal/runtime"
)

// DefaultMaxOperations caps the number of operations accepted per batch.
const DefaultMaxOperations = 500

// Ensure Reconciler implements SyncService
var _ driving.SyncService = (*Reconciler)(nil)

// Reconciler applies batches of offline mutations against the record store.
// Pipeline per batch:
//  1. Validate the batch shape (malformed batches never touch the store)
//  2. Apply each operation in submission order under optimistic concurrency
//  3. Update device bookkeeping
//  4. Append exactly one sync log entry with per-operation outcomes
//
// Operations are isolated: a failed operation is reported in its result and
// the batch continues. Only a store outage aborts the run.
type Reconciler struct {
	records   driven.RecordStore
	syncLogs  driven.SyncLogStore
	conflicts driven.ConflictStore
	devices   driven.DeviceStore
	registry  *runtime.Registry
	policy    domain.ConflictPolicy
	maxOps    int
	now       func() time.Time
	logger    *slog.Logger
}

// ReconcilerConfig holds dependencies for the Reconciler
type ReconcilerConfig struct {
	Records   driven.RecordStore
	SyncLogs  driven.SyncLogStore
	Conflicts driven.ConflictStore
	Devices   driven.DeviceStore
	Registry  *runtime.Registry

	// Policy is the server default used when a batch does not name one
	Policy domain.ConflictPolicy

	// MaxOperations caps batch size (0 means DefaultMaxOperations)
	MaxOperations int

	// Clock overrides the time source (nil means time.Now)
	Clock func() time.Time

	Logger *slog.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = domain.PolicyLastWriterWins
	}
	maxOps := cfg.MaxOperations
	if maxOps <= 0 {
		maxOps = DefaultMaxOperations
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Reconciler{
		records:   cfg.Records,
		syncLogs:  cfg.SyncLogs,
		conflicts: cfg.Conflicts,
		devices:   cfg.Devices,
		registry:  cfg.Registry,
		policy:    policy,
		maxOps:    maxOps,
		now:       clock,
		logger:    logger,
	}
}

// Reconcile applies a batch of operations and returns the persisted sync log.
// A non-nil error alongside a non-nil log means the run was aborted mid-batch;
// resubmitting the same batch is safe.
func (r *Reconciler) Reconcile(ctx context.Context, batch *domain.SyncBatch) (*domain.SyncLog, error) {
	startedAt := r.now()

	if err := r.validateBatch(batch); err != nil {
		return nil, err
	}

	policy := batch.Policy
	if policy == "" {
		policy = r.policy
	}
	submittedAt := batch.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = startedAt
	}

	r.logger.Info("reconciling batch",
		"user_id", batch.UserID,
		"device_id", batch.DeviceID,
		"operations", len(batch.Operations),
		"policy", policy,
	)

	results := make([]domain.OperationResult, 0, len(batch.Operations))
	var abortErr error

	for i := range batch.Operations {
		if err := ctx.Err(); err != nil {
			abortErr = fmt.Errorf("batch aborted at operation %d: %w", i, err)
			break
		}

		op := &batch.Operations[i]
		res, err := r.applyOperation(ctx, batch, policy, submittedAt, i, op)
		if err != nil {
			// Store outage: operations from this index on are unreported
			// and safe to resubmit.
			abortErr = fmt.Errorf("batch aborted at operation %d: %w", i, err)
			break
		}
		results = append(results, res)
	}

	recordsAffected := 0
	conflictsCount := 0
	errored := 0
	for _, res := range results {
		switch res.Outcome {
		case domain.OutcomeApplied:
			recordsAffected++
		case domain.OutcomeConflict:
			conflictsCount++
			if res.Winner == domain.WinnerIncoming {
				recordsAffected++
			}
		case domain.OutcomeError:
			errored++
		}
	}

	r.touchDevice(ctx, batch)

	completedAt := r.now()
	log := &domain.SyncLog{
		ID:              uuid.NewString(),
		UserID:          batch.UserID,
		DeviceID:        batch.DeviceID,
		OperationType:   domain.SyncOpBatch,
		Status:          logStatus(results, errored, abortErr),
		RecordsAffected: recordsAffected,
		ConflictsCount:  conflictsCount,
		Details:         results,
		Duration:        completedAt.Sub(startedAt),
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		CreatedAt:       completedAt,
	}
	if abortErr != nil {
		log.ErrorInfo = abortErr.Error()
	}

	if err := r.syncLogs.Append(ctx, log); err != nil {
		r.logger.Error("failed to append sync log",
			"user_id", batch.UserID,
			"device_id", batch.DeviceID,
			"error", err,
		)
		if abortErr == nil {
			return log, fmt.Errorf("failed to append sync log: %w", err)
		}
	}

	r.logger.Info("batch reconciled",
		"user_id", batch.UserID,
		"device_id", batch.DeviceID,
		"status", log.Status,
		"records_affected", recordsAffected,
		"conflicts", conflictsCount,
		"duration_seconds", log.Duration.Seconds(),
	)

	return log, abortErr
}

// logStatus derives the overall batch status. Conflicts and ignored
// operations still count as success; only errors degrade the status.
func logStatus(results []domain.OperationResult, errored int, abortErr error) domain.SyncLogStatus {
	if abortErr != nil {
		return domain.SyncLogFailed
	}
	if errored == 0 {
		return domain.SyncLogSuccess
	}
	if errored == len(results) {
		return domain.SyncLogFailed
	}
	return domain.SyncLogPartial
}

// validateBatch rejects malformed batches before any store access
func (r *Reconciler) validateBatch(batch *domain.SyncBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: empty batch", domain.ErrMalformedBatch)
	}
	if batch.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrMalformedBatch)
	}
	if batch.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", domain.ErrMalformedBatch)
	}
	if len(batch.Operations) == 0 {
		return fmt.Errorf("%w: batch has no operations", domain.ErrMalformedBatch)
	}
	if len(batch.Operations) > r.maxOps {
		return fmt.Errorf("%w: batch has %d operations, limit is %d",
			domain.ErrMalformedBatch, len(batch.Operations), r.maxOps)
	}
	if batch.Policy != "" && !batch.Policy.Valid() {
		return fmt.Errorf("%w: unknown conflict policy %q", domain.ErrMalformedBatch, batch.Policy)
	}

	for i := range batch.Operations {
		op := &batch.Operations[i]
		if !op.Kind.Valid() {
			return fmt.Errorf("%w: operation %d: unknown kind %q", domain.ErrMalformedBatch, i, op.Kind)
		}
		switch op.Kind {
		case domain.OpCreate:
			if op.OfflineID == "" {
				return fmt.Errorf("%w: operation %d: create requires offline_id", domain.ErrMalformedBatch, i)
			}
			if op.Entity == "" {
				return fmt.Errorf("%w: operation %d: create requires entity", domain.ErrMalformedBatch, i)
			}
			if op.Payload == nil {
				return fmt.Errorf("%w: operation %d: create requires payload", domain.ErrMalformedBatch, i)
			}
			if op.BaseVersion != nil {
				return fmt.Errorf("%w: operation %d: create must not carry base_version", domain.ErrMalformedBatch, i)
			}
		case domain.OpUpdate:
			if op.RecordID == "" {
				return fmt.Errorf("%w: operation %d: update requires record_id", domain.ErrMalformedBatch, i)
			}
			if op.BaseVersion == nil {
				return fmt.Errorf("%w: operation %d: update requires base_version", domain.ErrMalformedBatch, i)
			}
			if op.Payload == nil {
				return fmt.Errorf("%w: operation %d: update requires payload", domain.ErrMalformedBatch, i)
			}
		case domain.OpDelete:
			if op.RecordID == "" {
				return fmt.Errorf("%w: operation %d: delete requires record_id", domain.ErrMalformedBatch, i)
			}
			if op.BaseVersion == nil {
				return fmt.Errorf("%w: operation %d: delete requires base_version", domain.ErrMalformedBatch, i)
			}
		}
	}
	return nil
}

// applyOperation applies one operation. The returned error is non-nil only
// for abort-class failures (store unavailable); everything else is reported
// in the result's outcome.
func (r *Reconciler) applyOperation(
	ctx context.Context,
	batch *domain.SyncBatch,
	policy domain.ConflictPolicy,
	submittedAt time.Time,
	index int,
	op *domain.Operation,
) (domain.OperationResult, error) {
	res := domain.OperationResult{
		Index:     index,
		Kind:      op.Kind,
		RecordID:  op.RecordID,
		OfflineID: op.OfflineID,
	}

	var err error
	switch op.Kind {
	case domain.OpCreate:
		err = r.applyCreate(ctx, batch, submittedAt, op, &res)
	default:
		err = r.applyMutation(ctx, batch, policy, submittedAt, op, &res)
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

// applyCreate handles a create operation. Creates are idempotent on
// (device_id, offline_id): a retried create reports duplicate_ignored.
func (r *Reconciler) applyCreate(
	ctx context.Context,
	batch *domain.SyncBatch,
	submittedAt time.Time,
	op *domain.Operation,
	res *domain.OperationResult,
) error {
	existing, err := r.records.GetByOfflineID(ctx, batch.DeviceID, op.OfflineID)
	if err == nil {
		res.Outcome = domain.OutcomeDuplicateIgnored
		res.RecordID = existing.ID
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		res.Outcome = domain.OutcomeError
		res.Error = err.Error()
		return nil
	}

	if err := r.registry.Validate(op.Entity, op.Payload); err != nil {
		res.Outcome = domain.OutcomeError
		res.Error = err.Error()
		return nil
	}

	now := r.now()
	version := domain.TruncateVersion(effectiveMutatedAt(op, submittedAt))
	rec := &domain.Record{
		ID:      uuid.NewString(),
		Entity:  op.Entity,
		OwnerID: batch.UserID,
		Fields:  op.Payload,
		Sync: domain.SyncMeta{
			Status:     domain.SyncStatusSynced,
			UpdatedAt:  version,
			LastSyncAt: &now,
			OfflineID:  op.OfflineID,
			DeviceID:   batch.DeviceID,
		},
		CreatedAt: now,
	}

	switch err := r.records.Create(ctx, rec); {
	case err == nil:
		res.Outcome = domain.OutcomeApplied
		res.RecordID = rec.ID
	case errors.Is(err, domain.ErrAlreadyExists):
		// Lost a uniqueness race with a concurrent submission of the same
		// create; the record exists, so the retry semantics hold.
		res.Outcome = domain.OutcomeDuplicateIgnored
		if existing, gerr := r.records.GetByOfflineID(ctx, batch.DeviceID, op.OfflineID); gerr == nil {
			res.RecordID = existing.ID
		}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return err
	default:
		res.Outcome = domain.OutcomeError
		res.Error = err.Error()
	}
	return nil
}

// applyMutation handles update and delete operations against an existing
// record. The stored version is compared to the operation's base_version;
// a conditional write losing a mid-flight race re-runs the comparison once
// against the fresh record.
func (r *Reconciler) applyMutation(
	ctx context.Context,
	batch *domain.SyncBatch,
	policy domain.ConflictPolicy,
	submittedAt time.Time,
	op *domain.Operation,
	res *domain.OperationResult,
) error {
	base := domain.TruncateVersion(*op.BaseVersion)
	mutatedAt := domain.TruncateVersion(effectiveMutatedAt(op, submittedAt))

	for attempt := 0; ; attempt++ {
		res.Outcome = ""
		res.Winner = ""
		res.Error = ""

		rec, err := r.records.Get(ctx, op.RecordID)
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			res.Outcome = domain.OutcomeError
			res.Error = "record not found"
			return nil
		}

		if rec.Deleted {
			r.resolveAgainstTombstone(rec, op, mutatedAt, res)
			return nil
		}

		stored := rec.Sync.UpdatedAt

		if stored.Equal(base) {
			err = r.applyClean(ctx, rec, op, mutatedAt, res)
		} else if mutatedAt.Equal(stored) {
			// The store already reflects exactly this write: the operation
			// was applied by an earlier submission and replayed.
			res.Outcome = domain.OutcomeStaleIgnored
			return nil
		} else {
			err = r.applyConflict(ctx, batch, policy, rec, op, base, mutatedAt, res)
		}

		if errors.Is(err, domain.ErrVersionMismatch) && attempt == 0 {
			// A concurrent writer won the race between Get and Put;
			// re-run the comparison against the fresh record.
			continue
		}
		if errors.Is(err, domain.ErrVersionMismatch) {
			res.Outcome = domain.OutcomeError
			res.Error = "record changed concurrently"
			return nil
		}
		return err
	}
}

// resolveAgainstTombstone settles an operation targeting a soft-deleted
// record. Deletion is authoritative: stale writes are dropped, newer
// updates are rejected so the client re-creates instead of resurrecting.
func (r *Reconciler) resolveAgainstTombstone(
	rec *domain.Record,
	op *domain.Operation,
	mutatedAt time.Time,
	res *domain.OperationResult,
) {
	if op.Kind == domain.OpDelete {
		res.Outcome = domain.OutcomeStaleIgnored
		return
	}
	if !mutatedAt.After(rec.Sync.UpdatedAt) {
		res.Outcome = domain.OutcomeStaleIgnored
		return
	}
	res.Outcome = domain.OutcomeError
	res.Error = "record deleted"
}

// applyClean applies an operation whose base_version matches the stored
// version. Returns ErrVersionMismatch if a concurrent writer got in first.
func (r *Reconciler) applyClean(
	ctx context.Context,
	rec *domain.Record,
	op *domain.Operation,
	mutatedAt time.Time,
	res *domain.OperationResult,
) error {
	if op.Kind == domain.OpUpdate {
		if err := r.registry.Validate(rec.Entity, op.Payload); err != nil {
			res.Outcome = domain.OutcomeError
			res.Error = err.Error()
			return nil
		}
	}

	expected := rec.Sync.UpdatedAt
	r.mutateRecord(rec, op, mutatedAt)

	err := r.records.Put(ctx, rec, expected)
	if err == nil {
		res.Outcome = domain.OutcomeApplied
		return nil
	}
	if errors.Is(err, domain.ErrVersionMismatch) || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	res.Outcome = domain.OutcomeError
	res.Error = err.Error()
	return nil
}

// applyConflict settles a divergent operation per the batch policy.
// Returns ErrVersionMismatch if a concurrent writer got in first.
func (r *Reconciler) applyConflict(
	ctx context.Context,
	batch *domain.SyncBatch,
	policy domain.ConflictPolicy,
	rec *domain.Record,
	op *domain.Operation,
	base time.Time,
	mutatedAt time.Time,
	res *domain.OperationResult,
) error {
	stored := rec.Sync.UpdatedAt
	now := r.now()

	conflict := &domain.Conflict{
		ID:                uuid.NewString(),
		RecordID:          rec.ID,
		Entity:            rec.Entity,
		OwnerID:           rec.OwnerID,
		UserID:            batch.UserID,
		DeviceID:          batch.DeviceID,
		Kind:              op.Kind,
		BaseVersion:       base,
		ProposedFields:    op.Payload,
		ProposedMutatedAt: mutatedAt,
		StoredFields:      rec.Fields,
		StoredVersion:     stored,
		CreatedAt:         now,
	}

	if policy == domain.PolicyManual {
		held := *rec
		held.Sync.Status = domain.SyncStatusConflict
		if err := r.records.Put(ctx, &held, stored); err != nil {
			if errors.Is(err, domain.ErrVersionMismatch) || errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			res.Outcome = domain.OutcomeError
			res.Error = err.Error()
			return nil
		}
		if err := r.conflicts.Save(ctx, conflict); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			r.logger.Warn("failed to hold conflict proposal",
				"record_id", rec.ID,
				"error", err,
			)
		}
		res.Outcome = domain.OutcomeConflict
		return nil
	}

	// last_writer_wins: the later mutation timestamp keeps the record
	if mutatedAt.After(stored) {
		if op.Kind == domain.OpUpdate {
			if err := r.registry.Validate(rec.Entity, op.Payload); err != nil {
				res.Outcome = domain.OutcomeError
				res.Error = err.Error()
				return nil
			}
		}
		r.mutateRecord(rec, op, mutatedAt)
		if err := r.records.Put(ctx, rec, stored); err != nil {
			if errors.Is(err, domain.ErrVersionMismatch) || errors.Is(err, domain.ErrStoreUnavailable) {
				return err
			}
			res.Outcome = domain.OutcomeError
			res.Error = err.Error()
			return nil
		}
		res.Winner = domain.WinnerIncoming
	} else {
		res.Winner = domain.WinnerStored
	}

	// The losing side stays auditable as a pre-resolved conflict row
	conflict.ResolvedAt = &now
	conflict.ResolvedBy = "system:" + string(domain.PolicyLastWriterWins)
	if err := r.conflicts.Save(ctx, conflict); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
		r.logger.Warn("failed to record conflict audit row",
			"record_id", rec.ID,
			"error", err,
		)
	}

	res.Outcome = domain.OutcomeConflict
	return nil
}

// mutateRecord rewrites the record in place with the operation's effect
// and a fresh version
func (r *Reconciler) mutateRecord(rec *domain.Record, op *domain.Operation, mutatedAt time.Time) {
	now := r.now()
	if op.Kind == domain.OpDelete {
		rec.Deleted = true
		rec.DeletedAt = &now
	} else {
		rec.Fields = op.Payload
	}
	rec.Sync.Status = domain.SyncStatusSynced
	rec.Sync.UpdatedAt = nextVersion(rec.Sync.UpdatedAt, mutatedAt, now)
	rec.Sync.LastSyncAt = &now
}

// nextVersion picks the new stored version. The client's mutation time is
// kept when it advances the version (so later offline writes still win
// cross-device comparisons); otherwise the server clock is used, nudged
// past the stored version if the clocks disagree.
func nextVersion(stored, mutatedAt, now time.Time) time.Time {
	if mutatedAt.After(stored) {
		return mutatedAt
	}
	v := domain.TruncateVersion(now)
	if !v.After(stored) {
		v = stored.Add(time.Microsecond)
	}
	return v
}

// effectiveMutatedAt returns the operation's mutation timestamp, falling
// back to the batch submission time when the client did not send one
func effectiveMutatedAt(op *domain.Operation, submittedAt time.Time) time.Time {
	if op.MutatedAt.IsZero() {
		return submittedAt
	}
	return op.MutatedAt
}

// touchDevice upserts sync bookkeeping for the submitting device.
// Failures are logged and do not affect the batch outcome.
func (r *Reconciler) touchDevice(ctx context.Context, batch *domain.SyncBatch) {
	now := r.now()

	dev, err := r.devices.Get(ctx, batch.UserID, batch.DeviceID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("failed to load device", "device_id", batch.DeviceID, "error", err)
			return
		}
		dev = &domain.Device{
			ID:        uuid.NewString(),
			UserID:    batch.UserID,
			DeviceID:  batch.DeviceID,
			CreatedAt: now,
		}
	}

	dev.LastSyncAt = &now
	dev.LastSeenAt = now
	dev.BatchesSubmitted++

	if err := r.devices.Upsert(ctx, dev); err != nil {
		r.logger.Warn("failed to upsert device", "device_id", batch.DeviceID, "error", err)
	}
}

// Resolve closes an open conflict by writing the chosen field values.
// This is the terminal transition out of conflict status; a second resolve
// for the same record reports ErrNotInConflict.
func (r *Reconciler) Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.Record, error) {
	if req.RecordID == "" {
		return nil, fmt.Errorf("%w: record_id is required", domain.ErrInvalidInput)
	}
	if req.ChosenFields == nil {
		return nil, fmt.Errorf("%w: chosen_fields is required", domain.ErrInvalidInput)
	}

	rec, err := r.records.Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if !rec.IsConflict() {
		return nil, domain.ErrNotInConflict
	}

	if err := r.registry.Validate(rec.Entity, req.ChosenFields); err != nil {
		return nil, err
	}

	now := r.now()
	stored := rec.Sync.UpdatedAt

	rec.Fields = req.ChosenFields
	rec.Sync.Status = domain.SyncStatusSynced
	rec.Sync.UpdatedAt = nextVersion(stored, time.Time{}, now)
	rec.Sync.LastSyncAt = &now

	if err := r.records.Put(ctx, rec, stored); err != nil {
		if errors.Is(err, domain.ErrVersionMismatch) {
			// A concurrent resolve got in first
			return nil, domain.ErrNotInConflict
		}
		return nil, err
	}

	if err := r.conflicts.MarkResolved(ctx, rec.ID, req.ResolvedBy, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("failed to mark conflict resolved", "record_id", rec.ID, "error", err)
	}

	startedAt := now
	completedAt := r.now()
	log := &domain.SyncLog{
		ID:              uuid.NewString(),
		UserID:          req.ResolvedBy,
		OperationType:   domain.SyncOpResolve,
		Status:          domain.SyncLogSuccess,
		RecordsAffected: 1,
		Details: []domain.OperationResult{{
			Kind:     domain.OpUpdate,
			RecordID: rec.ID,
			Outcome:  domain.OutcomeApplied,
		}},
		Duration:    completedAt.Sub(startedAt),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		CreatedAt:   completedAt,
	}
	if err := r.syncLogs.Append(ctx, log); err != nil {
		r.logger.Error("failed to append resolve log", "record_id", rec.ID, "error", err)
	}

	r.logger.Info("conflict resolved",
		"record_id", rec.ID,
		"resolved_by", req.ResolvedBy,
	)

	return rec, nil
}

// ListConflicts retrieves open conflicts joined with the records' current
// payloads. An empty ownerID lists conflicts across all owners.
func (r *Reconciler) ListConflicts(ctx context.Context, ownerID string, limit, offset int) ([]*domain.ConflictView, error) {
	conflicts, err := r.conflicts.ListOpen(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]*domain.ConflictView, 0, len(conflicts))
	for _, c := range conflicts {
		view := &domain.ConflictView{Conflict: c}
		if rec, err := r.records.Get(ctx, c.RecordID); err == nil {
			view.Current = rec.Fields
			view.Version = rec.Sync.UpdatedAt
		}
		views = append(views, view)
	}
	return views, nil
}

// GetLog retrieves a single sync log entry
func (r *Reconciler) GetLog(ctx context.Context, id string) (*domain.SyncLog, error) {
	return r.syncLogs.Get(ctx, id)
}

// ListLogs retrieves sync log entries, newest first
func (r *Reconciler) ListLogs(ctx context.Context, filter domain.SyncLogFilter) ([]*domain.SyncLog, error) {
	return r.syncLogs.List(ctx, filter)
}

// ListDevices retrieves the devices that have synced for a user
func (r *Reconciler) ListDevices(ctx context.Context, userID string) ([]*domain.Device, error) {
	return r.devices.ListByUser(ctx, userID)
}
