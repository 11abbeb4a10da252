package store

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStores(t *testing.T) stores {
	return stores{
		users:       NewMemoryUserStore(),
		sessions:    NewMemorySessionStore(),
		credentials: NewMemoryCredentialStore(),
	}
}

func TestMemoryUserStore(t *testing.T) {
	runUserSuite(t, newMemoryStores)
}

func TestMemorySessionStore(t *testing.T) {
	runSessionSuite(t, newMemoryStores)
}

func TestMemoryCredentialStore(t *testing.T) {
	runCredentialSuite(t, newMemoryStores)
}

func TestMemoryUserStore_ChainSyncPending(t *testing.T) {
	users := NewMemoryUserStore()
	ctx := context.Background()

	u, err := users.UpsertContractUser(ctx, &core.User{Email: "erin@chain.local", Username: "erin"})
	require.NoError(t, err)
	require.NoError(t, users.SetChainSyncPending(ctx, u.ID, true))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.ChainSyncPending)

	linked, err := users.UpsertByWallet(ctx, &core.User{Email: "erin@chain.local", Username: "erin", WalletAddress: "0x00000000000000000000000000000000000000E1"})
	require.NoError(t, err)
	assert.False(t, linked.ChainSyncPending)
}

func TestMemoryChallengeStore(t *testing.T) {
	ctx := context.Background()

	t.Run("TakeConsumes", func(t *testing.T) {
		store := NewMemoryChallengeStore(time.Minute)
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{
			Kind: core.ChallengeRegistration, Subject: "a@example.com", Data: []byte("state"),
		}))

		record, err := store.Take(ctx, core.ChallengeRegistration, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, []byte("state"), record.Data)

		_, err = store.Take(ctx, core.ChallengeRegistration, "a@example.com")
		assert.ErrorIs(t, err, core.ErrChallengeExpired)
	})

	t.Run("KindsAreIndependent", func(t *testing.T) {
		store := NewMemoryChallengeStore(time.Minute)
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{Kind: core.ChallengeRegistration, Subject: "a", Data: []byte("reg")}))
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{Kind: core.ChallengeAuthentication, Subject: "a", Data: []byte("auth")}))

		record, err := store.Take(ctx, core.ChallengeAuthentication, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("auth"), record.Data)

		record, err = store.Take(ctx, core.ChallengeRegistration, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("reg"), record.Data)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		store := NewMemoryChallengeStore(time.Minute)
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{Kind: core.ChallengeRegistration, Subject: "a", Data: []byte("first")}))
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{Kind: core.ChallengeRegistration, Subject: "a", Data: []byte("second")}))

		record, err := store.Take(ctx, core.ChallengeRegistration, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), record.Data)
	})

	t.Run("Expires", func(t *testing.T) {
		store := NewMemoryChallengeStore(10 * time.Millisecond)
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{Kind: core.ChallengeRegistration, Subject: "a"}))

		time.Sleep(30 * time.Millisecond)
		_, err := store.Take(ctx, core.ChallengeRegistration, "a")
		assert.ErrorIs(t, err, core.ErrChallengeExpired)
	})

	t.Run("Delete", func(t *testing.T) {
		store := NewMemoryChallengeStore(time.Minute)
		require.NoError(t, store.Save(ctx, &core.ChallengeRecord{Kind: core.ChallengeRegistration, Subject: "a"}))
		require.NoError(t, store.Delete(ctx, core.ChallengeRegistration, "a"))

		_, err := store.Take(ctx, core.ChallengeRegistration, "a")
		assert.ErrorIs(t, err, core.ErrChallengeExpired)
	})
}
