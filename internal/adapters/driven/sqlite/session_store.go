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
var _ driven.SessionStore = (*SessionStore)(nil)

// SessionStore implements driven.SessionStore on SQLite for edge
// deployments that run without Redis. Expired rows are filtered on
// read rather than evicted by TTL.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new SessionStore
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, user_id, token, refresh_token, expires_at, created_at, user_agent, ip_address`

// Save stores a session
func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			token = excluded.token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			user_agent = excluded.user_agent,
			ip_address = excluded.ip_address
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		session.RefreshToken,
		formatTime(session.ExpiresAt),
		formatTime(session.CreatedAt),
		session.UserAgent,
		session.IPAddress,
	)
	return mapError(err)
}

// Get retrieves a session by ID
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.getWhere(ctx, "id = ?", id)
}

// GetByToken retrieves a session by token value
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	return s.getWhere(ctx, "token = ?", token)
}

// GetByRefreshToken retrieves a session by refresh token value
func (s *SessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*domain.Session, error) {
	return s.getWhere(ctx, "refresh_token = ?", refreshToken)
}

func (s *SessionStore) getWhere(ctx context.Context, where string, arg any) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ` + where

	row := s.db.QueryRowContext(ctx, query, arg)
	session, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Expiry is enforced on read; Redis does this with key TTLs
	if time.Now().After(session.ExpiresAt) {
		return nil, domain.ErrNotFound
	}

	return session, nil
}

// Delete deletes a session
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = ?`
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

// DeleteByToken deletes a session by token
func (s *SessionStore) DeleteByToken(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = ?`
	_, err := s.db.ExecContext(ctx, query, token)
	return err
}

// DeleteByUser deletes all sessions for a user (logout everywhere)
func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) error {
	query := `DELETE FROM sessions WHERE user_id = ?`
	_, err := s.db.ExecContext(ctx, query, userID)
	return err
}

// ListByUser lists all active sessions for a user
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = ? AND expires_at > ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, formatTime(time.Now()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

func scanSession(scan func(...any) error) (*domain.Session, error) {
	var session domain.Session
	var expiresAt, createdAt string

	err := scan(
		&session.ID,
		&session.UserID,
		&session.Token,
		&session.RefreshToken,
		&expiresAt,
		&createdAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	if err != nil {
		return nil, err
	}

	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &session, nil
}
