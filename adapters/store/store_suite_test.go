package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores bundles the implementations exercised by the shared suite
type stores struct {
	users       ports.UserStore
	sessions    ports.SessionStore
	credentials ports.CredentialStore
}

func runUserSuite(t *testing.T, newStores func(t *testing.T) stores) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		user := &core.User{Email: "Alice@Example.com", Username: "alice", PasswordHash: "hash"}
		require.NoError(t, s.users.Create(ctx, user))
		require.NotEmpty(t, user.ID)

		got, err := s.users.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, "alice@example.com", got.Email)
		assert.Equal(t, "hash", got.PasswordHash)

		got, err = s.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		got, err = s.users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		require.NoError(t, s.users.Create(ctx, &core.User{Email: "dup@example.com"}))
		err := s.users.Create(ctx, &core.User{Email: "dup@example.com"})
		assert.ErrorIs(t, err, core.ErrAlreadyExists)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		require.NoError(t, s.users.Create(ctx, &core.User{Email: "a@example.com", Username: "same"}))
		err := s.users.Create(ctx, &core.User{Email: "b@example.com", Username: "same"})
		assert.ErrorIs(t, err, core.ErrAlreadyExists)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		_, err := s.users.GetByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, core.ErrUserNotFound)
		_, err = s.users.GetByWallet(ctx, "0x0000000000000000000000000000000000000001")
		assert.ErrorIs(t, err, core.ErrUserNotFound)
		assert.ErrorIs(t, s.users.UpdatePasswordHash(ctx, "missing", "x"), core.ErrUserNotFound)
	})

	t.Run("UpdatePasswordHash", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		user := &core.User{Email: "pw@example.com", PasswordHash: "old"}
		require.NoError(t, s.users.Create(ctx, user))
		require.NoError(t, s.users.UpdatePasswordHash(ctx, user.ID, "new"))

		got, err := s.users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new", got.PasswordHash)
	})

	t.Run("UpsertByWalletIsIdempotent", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		wallet := "0xAbCdEf0000000000000000000000000000000001"

		first, err := s.users.UpsertByWallet(ctx, &core.User{Email: "bob@chain.local", Username: "bob", WalletAddress: wallet, PasswordHash: "h"})
		require.NoError(t, err)

		second, err := s.users.UpsertByWallet(ctx, &core.User{Email: "bob@chain.local", Username: "bob", WalletAddress: wallet, PasswordHash: "h2"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "h2", second.PasswordHash)

		third, err := s.users.UpsertByWallet(ctx, &core.User{Email: "bob@chain.local", Username: "bob", WalletAddress: wallet})
		require.NoError(t, err)
		assert.Equal(t, "h2", third.PasswordHash)

		got, err := s.users.GetByWallet(ctx, wallet)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("UpsertByWalletAdoptsUsernameRow", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		pending, err := s.users.UpsertContractUser(ctx, &core.User{Email: "carol@chain.local", Username: "carol", PasswordHash: "h"})
		require.NoError(t, err)
		assert.Empty(t, pending.WalletAddress)

		wallet := "0x00000000000000000000000000000000000000C0"
		linked, err := s.users.UpsertByWallet(ctx, &core.User{Email: "carol@chain.local", Username: "carol", WalletAddress: wallet})
		require.NoError(t, err)
		assert.Equal(t, pending.ID, linked.ID)
		assert.Equal(t, wallet, linked.WalletAddress)
		assert.Equal(t, "h", linked.PasswordHash)
	})

	t.Run("UpsertByWalletReplacesAdoptedHash", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		squatted, err := s.users.UpsertContractUser(ctx, &core.User{Email: "mallory@chain.local", Username: "mallory", PasswordHash: "theirs"})
		require.NoError(t, err)

		wallet := "0x00000000000000000000000000000000000000D0"
		linked, err := s.users.UpsertByWallet(ctx, &core.User{Email: "mallory@chain.local", Username: "mallory", WalletAddress: wallet, PasswordHash: "proven"})
		require.NoError(t, err)
		assert.Equal(t, squatted.ID, linked.ID)
		assert.Equal(t, "proven", linked.PasswordHash)

		got, err := s.users.GetByUsername(ctx, "mallory")
		require.NoError(t, err)
		assert.Equal(t, "proven", got.PasswordHash)
		assert.Equal(t, wallet, got.WalletAddress)
	})

	t.Run("UpsertContractUserCaseCollision", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		_, err := s.users.UpsertContractUser(ctx, &core.User{Email: "alice@chain.local", Username: "alice", PasswordHash: "h"})
		require.NoError(t, err)

		_, err = s.users.UpsertContractUser(ctx, &core.User{Email: "Alice@chain.local", Username: "Alice", PasswordHash: "other"})
		assert.ErrorIs(t, err, core.ErrAlreadyExists)
	})

	t.Run("UpsertContractUserReturnsExisting", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		first, err := s.users.UpsertContractUser(ctx, &core.User{Email: "dave@chain.local", Username: "dave", PasswordHash: "h"})
		require.NoError(t, err)
		second, err := s.users.UpsertContractUser(ctx, &core.User{Email: "dave@chain.local", Username: "dave", PasswordHash: "other"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "h", second.PasswordHash)
	})
}

func runSessionSuite(t *testing.T, newStores func(t *testing.T) stores) {
	newUser := func(t *testing.T, s stores) *core.User {
		u := &core.User{Email: uuid.New().String() + "@example.com"}
		require.NoError(t, s.users.Create(context.Background(), u))
		return u
	}
	newSession := func(userID string, expiresAt time.Time) *core.Session {
		now := time.Now()
		return &core.Session{
			ID:           uuid.New().String(),
			UserID:       userID,
			AccessToken:  "access-" + uuid.New().String(),
			RefreshToken: "refresh-" + uuid.New().String(),
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	t.Run("CreateAndLookup", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)

		session := newSession(u.ID, time.Now().Add(time.Hour))
		require.NoError(t, s.sessions.Create(ctx, session))

		got, err := s.sessions.GetByRefreshToken(ctx, session.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Millisecond)

		got, err = s.sessions.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.RefreshToken, got.RefreshToken)

		_, err = s.sessions.GetByRefreshToken(ctx, "unknown")
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("DuplicateRefreshToken", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)

		first := newSession(u.ID, time.Now().Add(time.Hour))
		require.NoError(t, s.sessions.Create(ctx, first))
		second := newSession(u.ID, time.Now().Add(time.Hour))
		second.RefreshToken = first.RefreshToken
		assert.ErrorIs(t, s.sessions.Create(ctx, second), core.ErrAlreadyExists)
	})

	t.Run("RotateIsSingleUse", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)

		session := newSession(u.ID, time.Now().Add(time.Hour))
		require.NoError(t, s.sessions.Create(ctx, session))

		require.NoError(t, s.sessions.RotateRefreshToken(ctx, session.RefreshToken, "rotated", "access-2", time.Now()))
		err := s.sessions.RotateRefreshToken(ctx, session.RefreshToken, "rotated-again", "access-3", time.Now())
		assert.ErrorIs(t, err, core.ErrSessionNotFound)

		got, err := s.sessions.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "rotated", got.RefreshToken)
		assert.Equal(t, "access-2", got.AccessToken)
		assert.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("RotateExpired", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)

		session := newSession(u.ID, time.Now().Add(-time.Second))
		require.NoError(t, s.sessions.Create(ctx, session))

		err := s.sessions.RotateRefreshToken(ctx, session.RefreshToken, "rotated", "access", time.Now())
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	})

	t.Run("ListAndDeleteByUser", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)
		other := newUser(t, s)

		require.NoError(t, s.sessions.Create(ctx, newSession(u.ID, time.Now().Add(time.Hour))))
		require.NoError(t, s.sessions.Create(ctx, newSession(u.ID, time.Now().Add(time.Hour))))
		require.NoError(t, s.sessions.Create(ctx, newSession(u.ID, time.Now().Add(-time.Hour))))
		require.NoError(t, s.sessions.Create(ctx, newSession(other.ID, time.Now().Add(time.Hour))))

		active, err := s.sessions.ListByUser(ctx, u.ID, time.Now())
		require.NoError(t, err)
		assert.Len(t, active, 2)

		n, err := s.sessions.DeleteByUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		active, err = s.sessions.ListByUser(ctx, u.ID, time.Now())
		require.NoError(t, err)
		assert.Empty(t, active)

		remaining, err := s.sessions.ListByUser(ctx, other.ID, time.Now())
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})

	t.Run("DeleteByRefreshTokenIsIdempotent", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)

		session := newSession(u.ID, time.Now().Add(time.Hour))
		require.NoError(t, s.sessions.Create(ctx, session))

		deleted, err := s.sessions.DeleteByRefreshToken(ctx, session.RefreshToken)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.sessions.DeleteByRefreshToken(ctx, session.RefreshToken)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()
		u := newUser(t, s)
		now := time.Now()

		n, err := s.sessions.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, s.sessions.Create(ctx, newSession(u.ID, now.Add(-time.Minute))))
		require.NoError(t, s.sessions.Create(ctx, newSession(u.ID, now.Add(-time.Hour))))
		live := newSession(u.ID, now.Add(time.Hour))
		require.NoError(t, s.sessions.Create(ctx, live))

		n, err = s.sessions.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = s.sessions.GetByID(ctx, live.ID)
		assert.NoError(t, err)
	})
}

func runCredentialSuite(t *testing.T, newStores func(t *testing.T) stores) {
	t.Run("Lifecycle", func(t *testing.T) {
		s := newStores(t)
		ctx := context.Background()

		u := &core.User{Email: "cred@example.com"}
		require.NoError(t, s.users.Create(ctx, u))

		credential := &core.BiometricCredential{
			ID:              []byte{0x01, 0x02, 0x03},
			UserID:          u.ID,
			PublicKey:       []byte("cose-key"),
			AttestationType: "none",
			Transports:      []string{"internal", "hybrid"},
			AAGUID:          make([]byte, 16),
			SignCount:       3,
			BackupEligible:  true,
			CreatedAt:       time.Now(),
		}
		require.NoError(t, s.credentials.Create(ctx, credential))
		assert.ErrorIs(t, s.credentials.Create(ctx, credential), core.ErrAlreadyExists)

		got, err := s.credentials.GetByID(ctx, credential.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID)
		assert.Equal(t, []string{"internal", "hybrid"}, got.Transports)
		assert.Equal(t, uint32(3), got.SignCount)
		assert.True(t, got.BackupEligible)
		assert.False(t, got.BackupState)

		usedAt := time.Now()
		require.NoError(t, s.credentials.UpdateCounter(ctx, credential.ID, 9, usedAt))

		list, err := s.credentials.ListByUser(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, uint32(9), list[0].SignCount)
		assert.WithinDuration(t, usedAt, list[0].LastUsedAt, time.Millisecond)

		_, err = s.credentials.GetByID(ctx, []byte("missing"))
		assert.ErrorIs(t, err, core.ErrCredentialNotFound)
		assert.ErrorIs(t, s.credentials.UpdateCounter(ctx, []byte("missing"), 1, usedAt), core.ErrCredentialNotFound)
	})
}
