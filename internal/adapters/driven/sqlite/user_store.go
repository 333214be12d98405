package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.UserStore = (*UserStore)(nil)

// UserStore implements driven.UserStore on SQLite
type UserStore struct {
	db *DB
}

// NewUserStore creates a new UserStore
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, email, password_hash, name, phone, role, cooperative_id, country_code, language_code, active, created_at, updated_at, last_login_at`

// Save creates or updates a user
func (s *UserStore) Save(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			password_hash = excluded.password_hash,
			name = excluded.name,
			phone = excluded.phone,
			role = excluded.role,
			cooperative_id = excluded.cooperative_id,
			country_code = excluded.country_code,
			language_code = excluded.language_code,
			active = excluded.active,
			updated_at = excluded.updated_at,
			last_login_at = excluded.last_login_at
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Phone,
		string(user.Role),
		user.CooperativeID,
		user.CountryCode,
		user.LanguageCode,
		user.Active,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
		formatNullTime(user.LastLoginAt),
	)
	return mapError(err)
}

// Get retrieves a user by ID
func (s *UserStore) Get(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByEmail retrieves a user by email
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`

	row := s.db.QueryRowContext(ctx, query, email)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// List retrieves all users for a cooperative; empty id means all users
func (s *UserStore) List(ctx context.Context, cooperativeID string) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}
	if cooperativeID != "" {
		query += ` WHERE cooperative_id = ?`
		args = append(args, cooperativeID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// Delete deletes a user
func (s *UserStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// UpdateLastLogin updates the last login timestamp
func (s *UserStore) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?`
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func scanUser(scan func(...any) error) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt string
	var lastLoginAt sql.NullString

	err := scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Phone,
		&user.Role,
		&user.CooperativeID,
		&user.CountryCode,
		&user.LanguageCode,
		&user.Active,
		&createdAt,
		&updatedAt,
		&lastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if user.LastLoginAt, err = parseNullTime(lastLoginAt); err != nil {
		return nil, fmt.Errorf("parse last_login_at: %w", err)
	}

	return &user, nil
}
