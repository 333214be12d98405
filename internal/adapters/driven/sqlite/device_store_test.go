package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

func TestDeviceStore_Upsert(t *testing.T) {
	store := NewDeviceStore(newTestDB(t))
	ctx := context.Background()

	now := domain.TruncateVersion(time.Now())
	device := &domain.Device{
		ID:               "d-1",
		UserID:           "user-1",
		DeviceID:         "dev-1",
		Platform:         "android",
		LastSeenAt:       now,
		BatchesSubmitted: 1,
		CreatedAt:        now,
	}

	if err := store.Upsert(ctx, device); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Second batch from the same device updates in place
	later := domain.TruncateVersion(now.Add(time.Minute))
	device.LastSyncAt = &later
	device.LastSeenAt = later
	device.BatchesSubmitted = 2
	if err := store.Upsert(ctx, device); err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}

	got, err := store.Get(ctx, "user-1", "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.BatchesSubmitted != 2 {
		t.Errorf("batches = %d, want 2", got.BatchesSubmitted)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(later) {
		t.Errorf("last sync = %v, want %v", got.LastSyncAt, later)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at moved to %v", got.CreatedAt)
	}
}

func TestDeviceStore_Get_NotFound(t *testing.T) {
	store := NewDeviceStore(newTestDB(t))

	_, err := store.Get(context.Background(), "user-1", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDeviceStore_ListByUser(t *testing.T) {
	store := NewDeviceStore(newTestDB(t))
	ctx := context.Background()

	base := domain.TruncateVersion(time.Now())
	seed := []struct {
		id       string
		userID   string
		deviceID string
		offset   time.Duration
	}{
		{"d-1", "user-1", "dev-1", 0},
		{"d-2", "user-1", "dev-2", time.Minute},
		{"d-3", "user-2", "dev-1", 2 * time.Minute},
	}
	for _, s := range seed {
		device := &domain.Device{
			ID:         s.id,
			UserID:     s.userID,
			DeviceID:   s.deviceID,
			LastSeenAt: domain.TruncateVersion(base.Add(s.offset)),
			CreatedAt:  base,
		}
		if err := store.Upsert(ctx, device); err != nil {
			t.Fatalf("Upsert(%s) error = %v", s.id, err)
		}
	}

	devices, err := store.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("ListByUser() returned %d devices, want 2", len(devices))
	}
	if devices[0].DeviceID != "dev-2" {
		t.Errorf("most recently seen first, got %s", devices[0].DeviceID)
	}
}
