package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

func testUser(id, email string) *domain.User {
	now := domain.TruncateVersion(time.Now())
	return &domain.User{
		ID:            id,
		Email:         email,
		PasswordHash:  "hash",
		Name:          "Amina Diallo",
		Phone:         "+221771234567",
		Role:          domain.RoleFarmer,
		CooperativeID: "coop-1",
		CountryCode:   "SN",
		LanguageCode:  "fr",
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestUserStore_SaveGet(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	user := testUser("user-1", "amina@example.com")
	if err := store.Save(ctx, user); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Email != "amina@example.com" || got.Role != domain.RoleFarmer {
		t.Errorf("Get() = %+v", got)
	}
	if got.CountryCode != "SN" || got.LanguageCode != "fr" {
		t.Errorf("Get() locale = %s/%s", got.CountryCode, got.LanguageCode)
	}

	// Save again updates in place
	user.Name = "Amina Ba"
	if err := store.Save(ctx, user); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}
	got, err = store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Amina Ba" {
		t.Errorf("name = %s, want Amina Ba", got.Name)
	}
}

func TestUserStore_GetByEmail(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, testUser("user-1", "amina@example.com")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.GetByEmail(ctx, "amina@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if got.ID != "user-1" {
		t.Errorf("GetByEmail() id = %s", got.ID)
	}

	if _, err := store.GetByEmail(ctx, "missing@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrNotFound", err)
	}
}

func TestUserStore_Save_DuplicateEmail(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, testUser("user-1", "amina@example.com")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Save(ctx, testUser("user-2", "amina@example.com")); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Save() duplicate email error = %v, want ErrAlreadyExists", err)
	}
}

func TestUserStore_List(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	u1 := testUser("user-1", "a@example.com")
	u2 := testUser("user-2", "b@example.com")
	u2.CooperativeID = "coop-2"
	for _, u := range []*domain.User{u1, u2} {
		if err := store.Save(ctx, u); err != nil {
			t.Fatalf("Save(%s) error = %v", u.ID, err)
		}
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d users, want 2", len(all))
	}

	scoped, err := store.List(ctx, "coop-2")
	if err != nil {
		t.Fatalf("List(coop-2) error = %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "user-2" {
		t.Errorf("List(coop-2) = %+v", scoped)
	}
}

func TestUserStore_Delete(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, testUser("user-1", "a@example.com")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Delete() second call error = %v, want ErrNotFound", err)
	}
}

func TestUserStore_UpdateLastLogin(t *testing.T) {
	store := NewUserStore(newTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, testUser("user-1", "a@example.com")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.UpdateLastLogin(ctx, "user-1"); err != nil {
		t.Fatalf("UpdateLastLogin() error = %v", err)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastLoginAt == nil {
		t.Error("LastLoginAt not set")
	}

	if err := store.UpdateLastLogin(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateLastLogin(missing) error = %v, want ErrNotFound", err)
	}
}
