package store

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// MemoryUserStore is an in-memory implementation of the UserStore interface
type MemoryUserStore struct {
	users map[string]*core.User
	mu    sync.RWMutex
}

// NewMemoryUserStore creates a new in-memory user store
func NewMemoryUserStore() ports.UserStore {
	return &MemoryUserStore{
		users: make(map[string]*core.User),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := s.checkUnique(user); err != nil {
		return err
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*core.User, error) {
	return s.find(func(u *core.User) bool { return u.ID == id })
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*core.User, error) {
	email = normalizeEmail(email)
	return s.find(func(u *core.User) bool { return u.Email == email })
}

func (s *MemoryUserStore) GetByUsername(ctx context.Context, username string) (*core.User, error) {
	return s.find(func(u *core.User) bool { return username != "" && u.Username == username })
}

func (s *MemoryUserStore) GetByWallet(ctx context.Context, address string) (*core.User, error) {
	return s.find(func(u *core.User) bool {
		return address != "" && strings.EqualFold(u.WalletAddress, address)
	})
}

func (s *MemoryUserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryUserStore) UpsertByWallet(ctx context.Context, user *core.User) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.WalletAddress == "" {
		return nil, core.ErrInvalidInput
	}

	for _, u := range s.users {
		if strings.EqualFold(u.WalletAddress, user.WalletAddress) {
			mergeContractUser(u, user)
			return cloneUser(u), nil
		}
	}

	// A contract user registered while the chain was down has no wallet yet
	for _, u := range s.users {
		if user.Username != "" && u.Username == user.Username {
			if u.WalletAddress != "" {
				return nil, core.ErrAlreadyExists
			}
			u.WalletAddress = user.WalletAddress
			mergeContractUser(u, user)
			return cloneUser(u), nil
		}
	}

	return s.insertLocked(user)
}

func (s *MemoryUserStore) UpsertContractUser(ctx context.Context, user *core.User) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username {
			if u.WalletAddress == "" && user.WalletAddress != "" {
				u.WalletAddress = user.WalletAddress
				u.UpdatedAt = time.Now()
			}
			return cloneUser(u), nil
		}
	}

	return s.insertLocked(user)
}

func (s *MemoryUserStore) SetChainSyncPending(ctx context.Context, id string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	u.ChainSyncPending = pending
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryUserStore) insertLocked(user *core.User) (*core.User, error) {
	stored := cloneUser(user)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if err := s.checkUnique(stored); err != nil {
		return nil, err
	}
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.users[stored.ID] = stored
	return cloneUser(stored), nil
}

func (s *MemoryUserStore) checkUnique(user *core.User) error {
	user.Email = normalizeEmail(user.Email)
	for _, u := range s.users {
		switch {
		case u.ID == user.ID,
			u.Email == user.Email,
			user.Username != "" && u.Username == user.Username,
			user.WalletAddress != "" && strings.EqualFold(u.WalletAddress, user.WalletAddress):
			return core.ErrAlreadyExists
		}
	}
	return nil
}

func (s *MemoryUserStore) find(match func(*core.User) bool) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, core.ErrUserNotFound
}

// MemorySessionStore is an in-memory implementation of the SessionStore interface
type MemorySessionStore struct {
	sessions map[string]*core.Session
	mu       sync.Mutex
}

// NewMemorySessionStore creates a new in-memory session store
func NewMemorySessionStore() ports.SessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*core.Session),
	}
}

func (s *MemorySessionStore) Create(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.ID == session.ID || existing.RefreshToken == session.RefreshToken {
			return core.ErrAlreadyExists
		}
	}
	stored := *session
	s.sessions[session.ID] = &stored
	return nil
}

func (s *MemorySessionStore) GetByID(ctx context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	found := *session
	return &found, nil
}

func (s *MemorySessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.byRefreshLocked(refreshToken)
	if session == nil {
		return nil, core.ErrSessionNotFound
	}
	found := *session
	return &found, nil
}

func (s *MemorySessionStore) ListByUser(ctx context.Context, userID string, now time.Time) ([]*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []*core.Session
	for _, session := range s.sessions {
		if session.UserID == userID && !session.Expired(now) {
			found := *session
			sessions = append(sessions, &found)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *MemorySessionStore) RotateRefreshToken(ctx context.Context, oldToken, newToken, accessToken string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.byRefreshLocked(oldToken)
	if session == nil || session.Expired(now) {
		return core.ErrSessionNotFound
	}
	if s.byRefreshLocked(newToken) != nil {
		return core.ErrAlreadyExists
	}
	session.RefreshToken = newToken
	session.AccessToken = accessToken
	session.UpdatedAt = now
	return nil
}

func (s *MemorySessionStore) DeleteByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.byRefreshLocked(refreshToken)
	if session == nil {
		return false, nil
	}
	delete(s.sessions, session.ID)
	return true, nil
}

func (s *MemorySessionStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemorySessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemorySessionStore) byRefreshLocked(refreshToken string) *core.Session {
	for _, session := range s.sessions {
		if session.RefreshToken == refreshToken {
			return session
		}
	}
	return nil
}

// MemoryCredentialStore is an in-memory implementation of the CredentialStore interface
type MemoryCredentialStore struct {
	credentials map[string]*core.BiometricCredential
	mu          sync.RWMutex
}

// NewMemoryCredentialStore creates a new in-memory credential store
func NewMemoryCredentialStore() ports.CredentialStore {
	return &MemoryCredentialStore{
		credentials: make(map[string]*core.BiometricCredential),
	}
}

func (s *MemoryCredentialStore) Create(ctx context.Context, credential *core.BiometricCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(credential.ID)
	if _, exists := s.credentials[key]; exists {
		return core.ErrAlreadyExists
	}
	s.credentials[key] = cloneCredential(credential)
	return nil
}

func (s *MemoryCredentialStore) GetByID(ctx context.Context, id []byte) (*core.BiometricCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credential, ok := s.credentials[string(id)]
	if !ok {
		return nil, core.ErrCredentialNotFound
	}
	return cloneCredential(credential), nil
}

func (s *MemoryCredentialStore) ListByUser(ctx context.Context, userID string) ([]*core.BiometricCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credentials []*core.BiometricCredential
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, cloneCredential(credential))
		}
	}
	sort.Slice(credentials, func(i, j int) bool {
		return bytes.Compare(credentials[i].ID, credentials[j].ID) < 0
	})
	return credentials, nil
}

func (s *MemoryCredentialStore) UpdateCounter(ctx context.Context, id []byte, signCount uint32, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[string(id)]
	if !ok {
		return core.ErrCredentialNotFound
	}
	credential.SignCount = signCount
	credential.LastUsedAt = usedAt
	return nil
}

func cloneUser(u *core.User) *core.User {
	c := *u
	return &c
}

func cloneCredential(c *core.BiometricCredential) *core.BiometricCredential {
	out := *c
	out.ID = append([]byte(nil), c.ID...)
	out.PublicKey = append([]byte(nil), c.PublicKey...)
	out.AAGUID = append([]byte(nil), c.AAGUID...)
	out.Transports = append([]string(nil), c.Transports...)
	return &out
}

func mergeContractUser(dst, src *core.User) {
	if src.PasswordHash != "" {
		dst.PasswordHash = src.PasswordHash
	}
	dst.ChainSyncPending = false
	dst.UpdatedAt = time.Now()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
