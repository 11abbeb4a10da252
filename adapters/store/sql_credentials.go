package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const credentialColumns = "id, user_id, public_key, attestation_type, transports, aaguid, sign_count, backup_eligible, backup_state, created_at, last_used_at"

// SQLCredentialStore is a relational implementation of the CredentialStore interface
type SQLCredentialStore struct {
	*DB
}

// NewSQLCredentialStore creates a credential store backed by db
func NewSQLCredentialStore(db *DB) ports.CredentialStore {
	return &SQLCredentialStore{DB: db}
}

func scanCredential(row interface{ Scan(...interface{}) error }) (*core.BiometricCredential, error) {
	var (
		c                     core.BiometricCredential
		transports            string
		signCount             int64
		createdAt, lastUsedAt int64
	)
	err := row.Scan(&c.ID, &c.UserID, &c.PublicKey, &c.AttestationType, &transports, &c.AAGUID,
		&signCount, &c.BackupEligible, &c.BackupState, &createdAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	if transports != "" {
		c.Transports = strings.Split(transports, ",")
	}
	c.SignCount = uint32(signCount)
	c.CreatedAt = fromUnix(createdAt)
	c.LastUsedAt = fromUnix(lastUsedAt)
	return &c, nil
}

func (s *SQLCredentialStore) Create(ctx context.Context, c *core.BiometricCredential) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO biometric_credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.PublicKey, c.AttestationType, strings.Join(c.Transports, ","), c.AAGUID,
		int64(c.SignCount), c.BackupEligible, c.BackupState, toUnix(c.CreatedAt), toUnix(c.LastUsedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (s *SQLCredentialStore) GetByID(ctx context.Context, id []byte) (*core.BiometricCredential, error) {
	return scanCredential(s.queryRow(ctx, s.db, `SELECT `+credentialColumns+` FROM biometric_credentials WHERE id = ?`, id))
}

func (s *SQLCredentialStore) ListByUser(ctx context.Context, userID string) ([]*core.BiometricCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+credentialColumns+` FROM biometric_credentials WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []*core.BiometricCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return credentials, nil
}

func (s *SQLCredentialStore) UpdateCounter(ctx context.Context, id []byte, signCount uint32, usedAt time.Time) error {
	res, err := s.exec(ctx, s.db,
		`UPDATE biometric_credentials SET sign_count = ?, last_used_at = ? WHERE id = ?`,
		int64(signCount), toUnix(usedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update credential counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCredentialNotFound
	}
	return nil
}
