package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driving"
	"github.com/shamba-labs/shamba-core/internal/runtime"
)

// Ensure recordService implements RecordService
var _ driving.RecordService = (*recordService)(nil)

// recordService implements the RecordService interface for online clients.
// Writes go through the same conditional-write path the reconciler uses, so
// online edits and offline batches contend on the same versions.
type recordService struct {
	records  driven.RecordStore
	registry *runtime.Registry
}

// NewRecordService creates a new RecordService
func NewRecordService(records driven.RecordStore, registry *runtime.Registry) driving.RecordService {
	return &recordService{
		records:  records,
		registry: registry,
	}
}

// Create validates the fields against the entity schema and stores a new
// record stamped with a server version
func (s *recordService) Create(ctx context.Context, actor *domain.AuthContext, req driving.CreateRecordRequest) (*domain.Record, error) {
	if req.Entity == "" {
		return nil, fmt.Errorf("%w: entity is required", domain.ErrInvalidInput)
	}
	if req.Fields == nil {
		return nil, fmt.Errorf("%w: fields are required", domain.ErrInvalidInput)
	}

	if err := s.registry.Validate(req.Entity, req.Fields); err != nil {
		return nil, err
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = actor.UserID
	}
	if ownerID != actor.UserID && !actor.CanViewAllRecords() {
		return nil, domain.ErrForbidden
	}

	now := time.Now()
	rec := &domain.Record{
		ID:      uuid.NewString(),
		Entity:  req.Entity,
		OwnerID: ownerID,
		Fields:  req.Fields,
		Sync: domain.SyncMeta{
			Status:     domain.SyncStatusSynced,
			UpdatedAt:  domain.TruncateVersion(now),
			LastSyncAt: &now,
		},
		CreatedAt: now,
	}

	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get retrieves a record visible to the actor
func (s *recordService) Get(ctx context.Context, actor *domain.AuthContext, id string) (*domain.Record, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, domain.ErrNotFound
	}
	if rec.OwnerID != actor.UserID && !actor.CanViewAllRecords() {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Update applies field changes under optimistic concurrency. The caller's
// base_version must match the stored version; there is no policy fallback
// for online edits, a mismatch is surfaced directly.
func (s *recordService) Update(ctx context.Context, actor *domain.AuthContext, id string, req driving.UpdateRecordRequest) (*domain.Record, error) {
	if req.Fields == nil {
		return nil, fmt.Errorf("%w: fields are required", domain.ErrInvalidInput)
	}
	if req.BaseVersion.IsZero() {
		return nil, fmt.Errorf("%w: base_version is required", domain.ErrInvalidInput)
	}

	rec, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if rec.IsConflict() {
		return nil, fmt.Errorf("%w: record is awaiting conflict resolution", domain.ErrVersionMismatch)
	}

	if err := s.registry.Validate(rec.Entity, req.Fields); err != nil {
		return nil, err
	}

	base := domain.TruncateVersion(req.BaseVersion)
	if !rec.Sync.UpdatedAt.Equal(base) {
		return nil, domain.ErrVersionMismatch
	}

	now := time.Now()
	rec.Fields = req.Fields
	rec.Sync.UpdatedAt = nextVersion(base, time.Time{}, now)
	rec.Sync.LastSyncAt = &now

	if err := s.records.Put(ctx, rec, base); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete soft-deletes a record under optimistic concurrency
func (s *recordService) Delete(ctx context.Context, actor *domain.AuthContext, id string, baseVersion time.Time) error {
	if baseVersion.IsZero() {
		return fmt.Errorf("%w: base_version is required", domain.ErrInvalidInput)
	}

	rec, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}

	base := domain.TruncateVersion(baseVersion)
	if !rec.Sync.UpdatedAt.Equal(base) {
		return domain.ErrVersionMismatch
	}

	now := time.Now()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.Sync.Status = domain.SyncStatusSynced
	rec.Sync.UpdatedAt = nextVersion(base, time.Time{}, now)
	rec.Sync.LastSyncAt = &now

	return s.records.Put(ctx, rec, base)
}

// List retrieves records matching the filter, scoped to the actor's
// visibility, together with the total match count
func (s *recordService) List(ctx context.Context, actor *domain.AuthContext, filter domain.RecordFilter) ([]*domain.Record, int, error) {
	if !actor.CanViewAllRecords() {
		filter.OwnerID = actor.UserID
	}
	if filter.Entity != "" {
		if _, err := s.registry.Get(filter.Entity); err != nil {
			return nil, 0, err
		}
	}

	records, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.records.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
