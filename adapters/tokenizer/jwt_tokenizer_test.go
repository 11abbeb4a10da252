package tokenizer

import (
	"testing"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenizer(t *testing.T) *JWTTokenizer {
	t.Helper()
	tk, err := NewJWTTokenizer(Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)
	return tk.(*JWTTokenizer)
}

func TestJWTTokenizer_RoundTrip(t *testing.T) {
	tk := newTestTokenizer(t)
	payload := core.TokenPayload{UserID: "u-1", Email: "a@example.com", WalletAddress: "0xabc"}
	now := time.Now()

	access, accessExp, err := tk.IssueAccess(payload, "s-1", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), accessExp, time.Second)

	refresh, refreshExp, err := tk.IssueRefresh(payload, "s-1", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), refreshExp, time.Second)

	claims, err := tk.ParseAccess(access)
	require.NoError(t, err)
	assert.Equal(t, payload, claims.TokenPayload)
	assert.Equal(t, "s-1", claims.SessionID)
	assert.NotEmpty(t, claims.ID)

	claims, err = tk.ParseRefresh(refresh)
	require.NoError(t, err)
	assert.Equal(t, payload, claims.TokenPayload)
}

func TestJWTTokenizer_UniqueTokens(t *testing.T) {
	tk := newTestTokenizer(t)
	payload := core.TokenPayload{UserID: "u-1", Email: "a@example.com"}
	now := time.Now()

	first, _, err := tk.IssueRefresh(payload, "s-1", now)
	require.NoError(t, err)
	second, _, err := tk.IssueRefresh(payload, "s-1", now)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestJWTTokenizer_RejectsSwappedKinds(t *testing.T) {
	tk := newTestTokenizer(t)
	payload := core.TokenPayload{UserID: "u-1", Email: "a@example.com"}

	access, _, err := tk.IssueAccess(payload, "s-1", time.Now())
	require.NoError(t, err)
	refresh, _, err := tk.IssueRefresh(payload, "s-1", time.Now())
	require.NoError(t, err)

	_, err = tk.ParseRefresh(access)
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	_, err = tk.ParseAccess(refresh)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestJWTTokenizer_Expired(t *testing.T) {
	tk := newTestTokenizer(t)
	payload := core.TokenPayload{UserID: "u-1", Email: "a@example.com"}

	access, _, err := tk.IssueAccess(payload, "s-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = tk.ParseAccess(access)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestJWTTokenizer_Garbage(t *testing.T) {
	tk := newTestTokenizer(t)

	_, err := tk.ParseAccess("not-a-token")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestNewJWTTokenizer_RequiresSecrets(t *testing.T) {
	_, err := NewJWTTokenizer(Config{AccessSecret: []byte("x")})
	assert.Error(t, err)
}
