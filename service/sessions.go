package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// DefaultSessionTTL is the absolute lifetime of a session
const DefaultSessionTTL = 7 * 24 * time.Hour // 7 days

// SessionManager issues, rotates and revokes sessions
type SessionManager struct {
	tokenizer ports.Tokenizer
	sessions  ports.SessionStore
	eventPub  ports.EventPublisher
	metrics   *Metrics
	logger    watermill.LoggerAdapter

	sessionTTL time.Duration
	sweeping   atomic.Bool
	now        func() time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager(
	tokenizer ports.Tokenizer,
	sessions ports.SessionStore,
	eventPub ports.EventPublisher,
	sessionTTL time.Duration,
	metrics *Metrics,
	logger watermill.LoggerAdapter,
) *SessionManager {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &SessionManager{
		tokenizer:  tokenizer,
		sessions:   sessions,
		eventPub:   eventPub,
		metrics:    metrics,
		logger:     logger.With(watermill.LogFields{"component": "sessions"}),
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Issue signs a fresh token pair for a new session id. Nothing is persisted.
func (m *SessionManager) Issue(payload core.TokenPayload) (core.TokenPair, error) {
	return m.issue(payload, uuid.New().String(), m.now())
}

func (m *SessionManager) issue(payload core.TokenPayload, sessionID string, now time.Time) (core.TokenPair, error) {
	access, accessExp, err := m.tokenizer.IssueAccess(payload, sessionID, now)
	if err != nil {
		return core.TokenPair{}, err
	}

	refresh, refreshExp, err := m.tokenizer.IssueRefresh(payload, sessionID, now)
	if err != nil {
		return core.TokenPair{}, err
	}

	return core.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		SessionID:        sessionID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// CreateSession persists a session for an issued pair
func (m *SessionManager) CreateSession(ctx context.Context, userID string, pair core.TokenPair) (*core.Session, error) {
	now := m.now()
	session := &core.Session{
		ID:           pair.SessionID,
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    now.Add(m.sessionTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Start issues a pair for user and persists its session
func (m *SessionManager) Start(ctx context.Context, user *core.User) (core.TokenPair, *core.Session, error) {
	pair, err := m.Issue(payloadFor(user))
	if err != nil {
		return core.TokenPair{}, nil, err
	}

	session, err := m.CreateSession(ctx, user.ID, pair)
	if err != nil {
		return core.TokenPair{}, nil, err
	}

	return pair, session, nil
}

// Refresh exchanges a refresh token for a new pair. The refresh token must
// still be the current token of a live session; a valid signature alone is
// not enough. The session keeps its original expiry.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	claims, err := m.tokenizer.ParseRefresh(refreshToken)
	if err != nil {
		return core.TokenPair{}, err
	}

	now := m.now()
	session, err := m.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return core.TokenPair{}, err
	}
	if session.Expired(now) {
		return core.TokenPair{}, core.ErrSessionNotFound
	}

	pair, err := m.issue(claims.TokenPayload, session.ID, now)
	if err != nil {
		return core.TokenPair{}, err
	}

	// Compare-and-swap on the old token so concurrent refreshes cannot both win
	if err := m.sessions.RotateRefreshToken(ctx, refreshToken, pair.RefreshToken, pair.AccessToken, now); err != nil {
		return core.TokenPair{}, err
	}

	if pair.RefreshExpiresAt.After(session.ExpiresAt) {
		pair.RefreshExpiresAt = session.ExpiresAt
	}
	return pair, nil
}

// Invalidate revokes the session holding refreshToken. Unknown tokens are
// ignored so logout can be retried.
func (m *SessionManager) Invalidate(ctx context.Context, refreshToken string) error {
	session, err := m.sessions.GetByRefreshToken(ctx, refreshToken)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := m.sessions.DeleteByRefreshToken(ctx, refreshToken); err != nil {
		return err
	}

	if err := m.eventPub.PublishLogout(ctx, session.UserID, session.ID); err != nil {
		// The session is already gone from the store, which is the critical part
		m.logger.Error("Failed to publish logout event", err, watermill.LogFields{"session_id": session.ID})
	}

	return nil
}

// InvalidateAll revokes every session of a user and returns how many were removed
func (m *SessionManager) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	n, err := m.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := m.eventPub.PublishLogoutAll(ctx, userID, n); err != nil {
		m.logger.Error("Failed to publish logout-all event", err, watermill.LogFields{"user_id": userID})
	}

	return n, nil
}

// GetSessions lists the user's non-expired sessions
func (m *SessionManager) GetSessions(ctx context.Context, userID string) ([]*core.Session, error) {
	return m.sessions.ListByUser(ctx, userID, m.now())
}

// SweepExpired deletes expired sessions. A sweep already in progress makes
// this call return 0 immediately.
func (m *SessionManager) SweepExpired(ctx context.Context) (int64, error) {
	if !m.sweeping.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer m.sweeping.Store(false)

	n, err := m.sessions.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}

	m.metrics.swept(n)
	if n > 0 {
		m.logger.Info("Expired sessions swept", watermill.LogFields{"count": n})
	}
	return n, nil
}

// Authenticate verifies an access token and checks that its session is
// still live
func (m *SessionManager) Authenticate(ctx context.Context, accessToken string) (*core.TokenClaims, error) {
	claims, err := m.tokenizer.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}

	session, err := m.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(m.now()) || session.UserID != claims.UserID {
		return nil, core.ErrSessionNotFound
	}

	return claims, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepExpired(ctx); err != nil {
				m.logger.Error("Session sweep failed", err, nil)
			}
		}
	}
}

func payloadFor(user *core.User) core.TokenPayload {
	return core.TokenPayload{
		UserID:        user.ID,
		Email:         user.Email,
		WalletAddress: user.WalletAddress,
	}
}
