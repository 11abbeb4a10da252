package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testRP = RelyingParty{
	ID:          "example.com",
	DisplayName: "Passport",
	Origins:     []string{"https://example.com"},
}

type fixture struct {
	users       ports.UserStore
	sessions    ports.SessionStore
	credentials ports.CredentialStore
	challenges  ports.ChallengeStore
	events      *recordingPublisher
	metrics     *Metrics
	registry    *prometheus.Registry

	ceremonies *CeremonyManager
	sessionMgr *SessionManager
	auth       *AuthService
}

func newFixture(t *testing.T, ledger ports.IdentityLedger) *fixture {
	t.Helper()

	f := &fixture{
		users:       store.NewMemoryUserStore(),
		sessions:    store.NewMemorySessionStore(),
		credentials: store.NewMemoryCredentialStore(),
		challenges:  store.NewMemoryChallengeStore(time.Minute),
		events:      &recordingPublisher{},
		registry:    prometheus.NewRegistry(),
	}
	f.metrics = NewMetrics(f.registry)

	tok, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		Issuer:        "passport-test",
	})
	require.NoError(t, err)

	logger := watermill.NopLogger{}

	f.ceremonies, err = NewCeremonyManager(testRP, f.users, f.credentials, f.challenges, f.metrics, logger)
	require.NoError(t, err)

	f.sessionMgr = NewSessionManager(tok, f.sessions, f.events, time.Hour, f.metrics, logger)
	f.auth = NewAuthService(
		f.users,
		NewCredentialVerifier(bcrypt.MinCost),
		f.ceremonies,
		f.sessionMgr,
		ledger,
		Options{FallbackEmailDomain: "contract.test", ChainTimeout: time.Second},
		f.metrics,
		logger,
	)
	return f
}

// recordingPublisher keeps every published logout event
type recordingPublisher struct {
	mu        sync.Mutex
	logouts   []string
	logoutAll map[string]int64
}

func (p *recordingPublisher) PublishLogout(ctx context.Context, userID, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, sessionID)
	return nil
}

func (p *recordingPublisher) PublishLogoutAll(ctx context.Context, userID string, count int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logoutAll == nil {
		p.logoutAll = make(map[string]int64)
	}
	p.logoutAll[userID] += count
	return nil
}

// fakeLedger is an in-memory identity registry
type fakeLedger struct {
	mu          sync.Mutex
	down        bool
	authErr     error
	registerErr error
	identities  map[string]fakeIdentity
	methods     map[string][]string
	registered  int
}

type fakeIdentity struct {
	commitment [32]byte
	account    string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		identities: make(map[string]fakeIdentity),
		methods:    make(map[string][]string),
	}
}

func (l *fakeLedger) add(username string, commitment [32]byte) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	account := fmt.Sprintf("0x%040x", len(l.identities)+1)
	l.identities[username] = fakeIdentity{commitment: commitment, account: account}
	return account
}

func (l *fakeLedger) RegisterOnChain(ctx context.Context, username string, passwordCommitment, socialIDHash [32]byte, provider string) (*core.TxReference, error) {
	l.mu.Lock()
	err := l.registerErr
	l.registered++
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.add(username, passwordCommitment)
	return &core.TxReference{Hash: "0xabc", BlockNumber: 1, GasUsed: 21000}, nil
}

func (l *fakeLedger) AuthenticateOnChain(ctx context.Context, username string, passwordCommitment [32]byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.authErr != nil {
		return "", l.authErr
	}

	identity, ok := l.identities[username]
	if !ok || identity.commitment != passwordCommitment {
		return "", fmt.Errorf("authenticate: %w", core.ErrChainRejected)
	}
	return identity.account, nil
}

func (l *fakeLedger) QueryAuthMethods(ctx context.Context, account string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.methods[account], nil
}

func (l *fakeLedger) Identity(ctx context.Context, account string) (*core.ContractIdentity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for username, identity := range l.identities {
		if identity.account == account {
			return &core.ContractIdentity{Username: username, Account: account, Verified: true}, nil
		}
	}
	return nil, core.ErrChainRejected
}

func (l *fakeLedger) IsAvailable(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.down
}

func (l *fakeLedger) setDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

func (l *fakeLedger) setAuthErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.authErr = err
}
