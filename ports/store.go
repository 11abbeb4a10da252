package ports

import (
	"context"
	"time"

	"github.com/layer-3/passport/core"
)

// UserStore persists users
type UserStore interface {
	Create(ctx context.Context, user *core.User) error
	GetByID(ctx context.Context, id string) (*core.User, error)
	GetByEmail(ctx context.Context, email string) (*core.User, error)
	GetByUsername(ctx context.Context, username string) (*core.User, error)
	GetByWallet(ctx context.Context, address string) (*core.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// UpsertByWallet creates the user keyed by its wallet address, or refreshes
	// the existing row and clears its pending chain sync flag. A row with the
	// same username and no wallet yet is adopted. A non-empty PasswordHash
	// replaces the stored one. The stored row is returned.
	UpsertByWallet(ctx context.Context, user *core.User) (*core.User, error)

	// UpsertContractUser creates the user keyed by its username, or returns the
	// existing row when the username is already present.
	UpsertContractUser(ctx context.Context, user *core.User) (*core.User, error)

	// SetChainSyncPending returns core.ErrFeatureUnavailable when the schema
	// has no room for the flag.
	SetChainSyncPending(ctx context.Context, id string, pending bool) error
}

// SessionStore persists sessions
type SessionStore interface {
	Create(ctx context.Context, session *core.Session) error
	GetByID(ctx context.Context, id string) (*core.Session, error)
	GetByRefreshToken(ctx context.Context, refreshToken string) (*core.Session, error)
	ListByUser(ctx context.Context, userID string, now time.Time) ([]*core.Session, error)

	// RotateRefreshToken swaps the refresh token only if oldToken is still the
	// current one, and returns core.ErrSessionNotFound otherwise.
	RotateRefreshToken(ctx context.Context, oldToken, newToken, accessToken string, now time.Time) error

	DeleteByRefreshToken(ctx context.Context, refreshToken string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore persists biometric credentials
type CredentialStore interface {
	Create(ctx context.Context, credential *core.BiometricCredential) error
	GetByID(ctx context.Context, id []byte) (*core.BiometricCredential, error)
	ListByUser(ctx context.Context, userID string) ([]*core.BiometricCredential, error)
	UpdateCounter(ctx context.Context, id []byte, signCount uint32, usedAt time.Time) error
}

// ChallengeStore holds pending ceremony state keyed by kind and subject
type ChallengeStore interface {
	Save(ctx context.Context, record *core.ChallengeRecord) error

	// Take atomically loads and deletes the record. A missing record is
	// reported as core.ErrChallengeExpired.
	Take(ctx context.Context, kind core.ChallengeKind, subject string) (*core.ChallengeRecord, error)

	Delete(ctx context.Context, kind core.ChallengeKind, subject string) error
}
