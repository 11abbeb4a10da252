package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const sessionColumns = "id, user_id, access_token, refresh_token, expires_at, created_at, updated_at"

// SQLSessionStore is a relational implementation of the SessionStore interface
type SQLSessionStore struct {
	*DB
}

// NewSQLSessionStore creates a session store backed by db
func NewSQLSessionStore(db *DB) ports.SessionStore {
	return &SQLSessionStore{DB: db}
}

func scanSession(row interface{ Scan(...interface{}) error }) (*core.Session, error) {
	var (
		session                         core.Session
		expiresAt, createdAt, updatedAt int64
	)
	err := row.Scan(&session.ID, &session.UserID, &session.AccessToken, &session.RefreshToken, &expiresAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	session.ExpiresAt = fromUnix(expiresAt)
	session.CreatedAt = fromUnix(createdAt)
	session.UpdatedAt = fromUnix(updatedAt)
	return &session, nil
}

func (s *SQLSessionStore) Create(ctx context.Context, session *core.Session) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.AccessToken, session.RefreshToken,
		toUnix(session.ExpiresAt), toUnix(session.CreatedAt), toUnix(session.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLSessionStore) GetByID(ctx context.Context, id string) (*core.Session, error) {
	return scanSession(s.queryRow(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

func (s *SQLSessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*core.Session, error) {
	return scanSession(s.queryRow(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = ?`, refreshToken))
}

func (s *SQLSessionStore) ListByUser(ctx context.Context, userID string, now time.Time) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND expires_at > ? ORDER BY created_at`),
		userID, toUnix(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// RotateRefreshToken is a single conditional UPDATE, so two refreshes racing
// on the same token cannot both succeed.
func (s *SQLSessionStore) RotateRefreshToken(ctx context.Context, oldToken, newToken, accessToken string, now time.Time) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE sessions SET refresh_token = ?, access_token = ?, updated_at = ? WHERE refresh_token = ? AND expires_at > ?`,
		newToken, accessToken, toUnix(now), oldToken, toUnix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyExists
		}
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (s *SQLSessionStore) DeleteByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE refresh_token = ?`, refreshToken)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLSessionStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM sessions WHERE expires_at <= ?`, toUnix(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
