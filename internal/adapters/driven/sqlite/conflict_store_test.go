package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

func testConflict(id, recordID string, createdAt time.Time) *domain.Conflict {
	return &domain.Conflict{
		ID:                id,
		RecordID:          recordID,
		Entity:            "farm",
		OwnerID:           "user-1",
		UserID:            "user-1",
		DeviceID:          "dev-1",
		Kind:              domain.OpUpdate,
		BaseVersion:       domain.TruncateVersion(createdAt.Add(-time.Minute)),
		ProposedFields:    map[string]any{"name": "Held proposal"},
		ProposedMutatedAt: domain.TruncateVersion(createdAt),
		StoredFields:      map[string]any{"name": "Stored"},
		StoredVersion:     domain.TruncateVersion(createdAt.Add(-30 * time.Second)),
		CreatedAt:         domain.TruncateVersion(createdAt),
	}
}

func TestConflictStore_SaveGetOpen(t *testing.T) {
	store := NewConflictStore(newTestDB(t))
	ctx := context.Background()

	conflict := testConflict("con-1", "rec-1", time.Now())
	if err := store.Save(ctx, conflict); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.GetOpen(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetOpen() error = %v", err)
	}

	if got.ID != "con-1" || got.Kind != domain.OpUpdate {
		t.Errorf("GetOpen() = %+v", got)
	}
	if !got.BaseVersion.Equal(conflict.BaseVersion) {
		t.Errorf("base version = %v, want %v", got.BaseVersion, conflict.BaseVersion)
	}
	if !got.StoredVersion.Equal(conflict.StoredVersion) {
		t.Errorf("stored version = %v, want %v", got.StoredVersion, conflict.StoredVersion)
	}
	if got.ProposedFields["name"] != "Held proposal" {
		t.Errorf("proposed fields = %v", got.ProposedFields)
	}
	if got.Resolved() {
		t.Error("GetOpen() returned a resolved conflict")
	}
}

func TestConflictStore_GetOpen_NotFound(t *testing.T) {
	store := NewConflictStore(newTestDB(t))

	_, err := store.GetOpen(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetOpen() error = %v, want ErrNotFound", err)
	}
}

func TestConflictStore_Save_ReplacesOpen(t *testing.T) {
	store := NewConflictStore(newTestDB(t))
	ctx := context.Background()

	first := testConflict("con-1", "rec-1", time.Now())
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() first error = %v", err)
	}

	second := testConflict("con-2", "rec-1", time.Now().Add(time.Second))
	second.ProposedFields = map[string]any{"name": "Newer proposal"}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save() second error = %v", err)
	}

	got, err := store.GetOpen(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetOpen() error = %v", err)
	}
	if got.ID != "con-2" {
		t.Errorf("open conflict id = %s, want con-2", got.ID)
	}
	if got.ProposedFields["name"] != "Newer proposal" {
		t.Errorf("proposed fields = %v", got.ProposedFields)
	}

	// The replaced proposal is gone, not resolved
	open, err := store.ListOpen(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("ListOpen() error = %v", err)
	}
	if len(open) != 1 {
		t.Errorf("ListOpen() returned %d conflicts, want 1", len(open))
	}
}

func TestConflictStore_Save_ResolvedAuditRow(t *testing.T) {
	store := NewConflictStore(newTestDB(t))
	ctx := context.Background()

	open := testConflict("con-1", "rec-1", time.Now())
	if err := store.Save(ctx, open); err != nil {
		t.Fatalf("Save() open error = %v", err)
	}

	// A last-writer-wins audit row arrives pre-resolved and must not
	// displace the held manual conflict.
	resolvedAt := domain.TruncateVersion(time.Now())
	audit := testConflict("con-2", "rec-1", time.Now().Add(time.Second))
	audit.ResolvedAt = &resolvedAt
	audit.ResolvedBy = "policy:last_writer_wins"
	if err := store.Save(ctx, audit); err != nil {
		t.Fatalf("Save() audit error = %v", err)
	}

	got, err := store.GetOpen(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetOpen() error = %v", err)
	}
	if got.ID != "con-1" {
		t.Errorf("open conflict id = %s, want con-1", got.ID)
	}
}

func TestConflictStore_MarkResolved(t *testing.T) {
	store := NewConflictStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, testConflict("con-1", "rec-1", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	resolvedAt := domain.TruncateVersion(time.Now())
	if err := store.MarkResolved(ctx, "rec-1", "user-9", resolvedAt); err != nil {
		t.Fatalf("MarkResolved() error = %v", err)
	}

	if _, err := store.GetOpen(ctx, "rec-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetOpen() after resolve error = %v, want ErrNotFound", err)
	}

	// Resolving again finds nothing open
	if err := store.MarkResolved(ctx, "rec-1", "user-9", resolvedAt); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("MarkResolved() second call error = %v, want ErrNotFound", err)
	}
}

func TestConflictStore_ListOpen(t *testing.T) {
	store := NewConflictStore(newTestDB(t))
	ctx := context.Background()

	base := time.Now()
	seed := []struct {
		id       string
		recordID string
		ownerID  string
		offset   time.Duration
	}{
		{"con-1", "rec-1", "user-1", 0},
		{"con-2", "rec-2", "user-1", time.Second},
		{"con-3", "rec-3", "user-2", 2 * time.Second},
	}
	for _, s := range seed {
		conflict := testConflict(s.id, s.recordID, base.Add(s.offset))
		conflict.OwnerID = s.ownerID
		if err := store.Save(ctx, conflict); err != nil {
			t.Fatalf("Save(%s) error = %v", s.id, err)
		}
	}

	all, err := store.ListOpen(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("ListOpen() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListOpen() returned %d conflicts, want 3", len(all))
	}
	if all[0].ID != "con-3" {
		t.Errorf("newest first, got %s", all[0].ID)
	}

	scoped, err := store.ListOpen(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatalf("ListOpen(user-1) error = %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("ListOpen(user-1) returned %d conflicts, want 2", len(scoped))
	}

	limited, err := store.ListOpen(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("ListOpen() paged error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "con-2" {
		t.Errorf("ListOpen() page = %+v, want [con-2]", limited)
	}
}

func TestConflictStore_DeleteConflictFields(t *testing.T) {
	store := NewConflictStore(newTestDB(t))
	ctx := context.Background()

	// Delete conflicts hold no proposed payload
	conflict := testConflict("con-1", "rec-1", time.Now())
	conflict.Kind = domain.OpDelete
	conflict.ProposedFields = nil

	if err := store.Save(ctx, conflict); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.GetOpen(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetOpen() error = %v", err)
	}
	if got.Kind != domain.OpDelete {
		t.Errorf("kind = %s, want delete", got.Kind)
	}
	if got.ProposedFields != nil {
		t.Errorf("proposed fields = %v, want nil", got.ProposedFields)
	}
}
