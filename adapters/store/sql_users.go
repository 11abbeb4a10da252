package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// SQLUserStore is a relational implementation of the UserStore interface
type SQLUserStore struct {
	*DB
}

// NewSQLUserStore creates a user store backed by db
func NewSQLUserStore(db *DB) ports.UserStore {
	return &SQLUserStore{DB: db}
}

func (s *SQLUserStore) columns() string {
	cols := "id, email, username, password_hash, wallet_address, created_at, updated_at"
	if s.caps.ChainSyncPending {
		cols += ", chain_sync_pending"
	}
	return cols
}

func (s *SQLUserStore) scan(row interface{ Scan(...interface{}) error }) (*core.User, error) {
	var (
		u                              core.User
		username, passwordHash, wallet sql.NullString
		createdAt, updatedAt           int64
	)
	dest := []interface{}{&u.ID, &u.Email, &username, &passwordHash, &wallet, &createdAt, &updatedAt}
	if s.caps.ChainSyncPending {
		dest = append(dest, &u.ChainSyncPending)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Username = username.String
	u.PasswordHash = passwordHash.String
	u.WalletAddress = wallet.String
	u.CreatedAt = fromUnix(createdAt)
	u.UpdatedAt = fromUnix(updatedAt)
	return &u, nil
}

func (s *SQLUserStore) Create(ctx context.Context, user *core.User) error {
	return s.insert(ctx, s.db, user)
}

func (s *SQLUserStore) insert(ctx context.Context, q execer, user *core.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = normalizeEmail(user.Email)
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `INSERT INTO users (id, email, username, password_hash, wallet_address, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		user.ID, user.Email, nullString(user.Username), nullString(user.PasswordHash),
		nullString(user.WalletAddress), toUnix(user.CreatedAt), toUnix(user.UpdatedAt),
	}
	if s.caps.ChainSyncPending {
		query = `INSERT INTO users (id, email, username, password_hash, wallet_address, created_at, updated_at, chain_sync_pending) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		args = append(args, user.ChainSyncPending)
	}

	if _, err := s.exec(ctx, q, query, args...); err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLUserStore) getBy(ctx context.Context, q execer, column string, value interface{}) (*core.User, error) {
	return s.scan(s.queryRow(ctx, q, "SELECT "+s.columns()+" FROM users WHERE "+column+" = ?", value))
}

func (s *SQLUserStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	return s.getBy(ctx, s.db, "id", id)
}

func (s *SQLUserStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	return s.getBy(ctx, s.db, "email", normalizeEmail(email))
}

func (s *SQLUserStore) GetByUsername(ctx context.Context, username string) (*core.User, error) {
	if username == "" {
		return nil, core.ErrUserNotFound
	}
	return s.getBy(ctx, s.db, "username", username)
}

func (s *SQLUserStore) GetByWallet(ctx context.Context, address string) (*core.User, error) {
	if address == "" {
		return nil, core.ErrUserNotFound
	}
	return s.getBy(ctx, s.db, "LOWER(wallet_address)", strings.ToLower(address))
}

func (s *SQLUserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.exec(ctx, s.db, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

func (s *SQLUserStore) UpsertByWallet(ctx context.Context, user *core.User) (*core.User, error) {
	if user.WalletAddress == "" {
		return nil, core.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.getBy(ctx, tx, "LOWER(wallet_address)", strings.ToLower(user.WalletAddress))
	if errors.Is(err, core.ErrUserNotFound) && user.Username != "" {
		// A contract user registered while the chain was down has no wallet yet
		existing, err = s.getBy(ctx, tx, "username", user.Username)
		if err == nil && existing.WalletAddress != "" && !strings.EqualFold(existing.WalletAddress, user.WalletAddress) {
			return nil, core.ErrAlreadyExists
		}
	}

	switch {
	case err == nil:
		passwordHash := existing.PasswordHash
		if user.PasswordHash != "" {
			passwordHash = user.PasswordHash
		}
		query := `UPDATE users SET wallet_address = ?, password_hash = ?, updated_at = ? WHERE id = ?`
		if s.caps.ChainSyncPending {
			query = `UPDATE users SET wallet_address = ?, password_hash = ?, updated_at = ?, chain_sync_pending = FALSE WHERE id = ?`
		}
		if _, err := s.exec(ctx, tx, query, user.WalletAddress, nullString(passwordHash), toUnix(time.Now()), existing.ID); err != nil {
			if isUniqueViolation(err) {
				return nil, core.ErrAlreadyExists
			}
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	case errors.Is(err, core.ErrUserNotFound):
		fresh := *user
		fresh.ChainSyncPending = false
		if err := s.insert(ctx, tx, &fresh); err != nil {
			return nil, err
		}
		existing = &fresh
	default:
		return nil, err
	}

	stored, err := s.getBy(ctx, tx, "id", existing.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, nil
}

func (s *SQLUserStore) UpsertContractUser(ctx context.Context, user *core.User) (*core.User, error) {
	err := s.Create(ctx, user)
	if err == nil {
		return s.GetByID(ctx, user.ID)
	}
	if !errors.Is(err, core.ErrAlreadyExists) {
		return nil, err
	}

	// The collision may be on the placeholder email of a differently cased username
	existing, err := s.GetByUsername(ctx, user.Username)
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, core.ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	if existing.WalletAddress == "" && user.WalletAddress != "" {
		if _, err := s.exec(ctx, s.db, `UPDATE users SET wallet_address = ?, updated_at = ? WHERE id = ?`,
			user.WalletAddress, toUnix(time.Now()), existing.ID); err != nil {
			if isUniqueViolation(err) {
				return nil, core.ErrAlreadyExists
			}
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		return s.GetByID(ctx, existing.ID)
	}
	return existing, nil
}

func (s *SQLUserStore) SetChainSyncPending(ctx context.Context, id string, pending bool) error {
	if !s.caps.ChainSyncPending {
		return core.ErrFeatureUnavailable
	}

	res, err := s.exec(ctx, s.db, `UPDATE users SET chain_sync_pending = ?, updated_at = ? WHERE id = ?`, pending, toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update chain sync flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrUserNotFound
	}
	return nil
}
