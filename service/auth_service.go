package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-playground/validator/v10"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/layer-3/passport/adapters/chain"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// Authentication methods used as metric labels and reported by AuthMethods
const (
	MethodPassword  = "password"
	MethodBiometric = "biometric"
	MethodContract  = "contract"
)

// Options tunes the orchestrator
type Options struct {
	// FallbackEmailDomain builds the placeholder email of contract users
	FallbackEmailDomain string
	// ChainTimeout bounds every individual chain call
	ChainTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.FallbackEmailDomain == "" {
		o.FallbackEmailDomain = "contract.passport.local"
	}
	if o.ChainTimeout <= 0 {
		o.ChainTimeout = 30 * time.Second
	}
}

// PasswordRegistration is the input of RegisterWithPassword
type PasswordRegistration struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username,omitempty" validate:"omitempty,min=3,max=32,alphanum"`
}

// PasswordLogin is the input of LoginWithPassword
type PasswordLogin struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ContractRegistration is the input of RegisterWithContract
type ContractRegistration struct {
	Username       string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password       string `json:"password" validate:"required"`
	SocialID       string `json:"social_id,omitempty" validate:"omitempty,max=256"`
	SocialProvider string `json:"social_provider,omitempty" validate:"required_with=SocialID,max=64"`
}

// ContractLogin is the input of LoginWithContract
type ContractLogin struct {
	Username string `json:"username" validate:"required,max=32"`
	Password string `json:"password" validate:"required"`
}

// BiometricResult is the outcome of completing a ceremony through the
// orchestrator. Session is set only when the ceremony verified.
type BiometricResult struct {
	core.CeremonyResult
	Session *core.AuthSession
}

// AuthService handles authentication business logic. It selects the proof
// of identity, reconciles the off-chain store with the identity registry and
// hands out sessions.
type AuthService struct {
	users      ports.UserStore
	verifier   *CredentialVerifier
	ceremonies *CeremonyManager
	sessions   *SessionManager
	ledger     ports.IdentityLedger // nil when no chain is configured

	opts     Options
	validate *validator.Validate
	metrics  *Metrics
	logger   watermill.LoggerAdapter
}

// NewAuthService creates a new authentication service. ledger may be nil.
func NewAuthService(
	users ports.UserStore,
	verifier *CredentialVerifier,
	ceremonies *CeremonyManager,
	sessions *SessionManager,
	ledger ports.IdentityLedger,
	opts Options,
	metrics *Metrics,
	logger watermill.LoggerAdapter,
) *AuthService {
	opts.setDefaults()
	return &AuthService{
		users:      users,
		verifier:   verifier,
		ceremonies: ceremonies,
		sessions:   sessions,
		ledger:     ledger,
		opts:       opts,
		validate:   validator.New(),
		metrics:    metrics,
		logger:     logger.With(watermill.LogFields{"component": "auth"}),
	}
}

// RegisterWithPassword creates a password user and starts a session
func (s *AuthService) RegisterWithPassword(ctx context.Context, in PasswordRegistration) (*core.AuthSession, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.checkStrength(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.verifier.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &core.User{
		Email:        normalizeEmail(in.Email),
		Username:     in.Username,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", watermill.LogFields{"user_id": user.ID, "method": MethodPassword})
	return s.startSession(ctx, user, false)
}

// LoginWithPassword authenticates by email and password. Every failure is
// reported as core.ErrInvalidCredentials.
func (s *AuthService) LoginWithPassword(ctx context.Context, in PasswordLogin) (*core.AuthSession, error) {
	if err := s.check(in); err != nil {
		s.metrics.authAttempt(MethodPassword, OutcomeFailure)
		return nil, core.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		s.metrics.authAttempt(MethodPassword, OutcomeFailure)
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.HasPassword() || !s.verifier.Verify(in.Password, user.PasswordHash) {
		s.metrics.authAttempt(MethodPassword, OutcomeFailure)
		return nil, core.ErrInvalidCredentials
	}

	s.metrics.authAttempt(MethodPassword, OutcomeSuccess)
	return s.startSession(ctx, user, false)
}

// ChangePassword replaces the password and revokes every session of the user
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() || !s.verifier.Verify(oldPassword, user.PasswordHash) {
		return core.ErrInvalidCredentials
	}
	if err := s.checkStrength(newPassword); err != nil {
		return err
	}

	hash, err := s.verifier.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	n, err := s.sessions.InvalidateAll(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.logger.Info("Password changed", watermill.LogFields{"user_id": user.ID, "revoked": n})
	return nil
}

// BeginBiometricRegistration starts a registration ceremony
func (s *AuthService) BeginBiometricRegistration(ctx context.Context, email, displayName string, kind core.AuthenticatorKind) (*protocol.CredentialCreation, error) {
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, &core.ValidationError{Field: "email", Reason: "must be a valid email"}
	}
	return s.ceremonies.BeginRegistration(ctx, normalizeEmail(email), displayName, kind)
}

// CompleteBiometricRegistration finishes a registration ceremony and starts
// a session when it verified
func (s *AuthService) CompleteBiometricRegistration(ctx context.Context, email string, attestation *protocol.ParsedCredentialCreationData) (*BiometricResult, error) {
	result, err := s.ceremonies.CompleteRegistration(ctx, normalizeEmail(email), attestation)
	if err != nil {
		return nil, err
	}
	return s.finishCeremony(ctx, result)
}

// BeginBiometricLogin starts an authentication ceremony
func (s *AuthService) BeginBiometricLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	return s.ceremonies.BeginAuthentication(ctx, normalizeEmail(email))
}

// CompleteBiometricLogin finishes an authentication ceremony and starts a
// session when it verified
func (s *AuthService) CompleteBiometricLogin(ctx context.Context, email string, assertion *protocol.ParsedCredentialAssertionData) (*BiometricResult, error) {
	result, err := s.ceremonies.CompleteAuthentication(ctx, normalizeEmail(email), assertion)
	if err != nil {
		s.metrics.authAttempt(MethodBiometric, OutcomeFailure)
		return nil, err
	}
	if !result.Verified {
		s.metrics.authAttempt(MethodBiometric, OutcomeFailure)
	} else {
		s.metrics.authAttempt(MethodBiometric, OutcomeSuccess)
	}
	return s.finishCeremony(ctx, result)
}

func (s *AuthService) finishCeremony(ctx context.Context, result core.CeremonyResult) (*BiometricResult, error) {
	if !result.Verified {
		return &BiometricResult{CeremonyResult: result}, nil
	}

	user, err := s.users.GetByID(ctx, result.UserID)
	if err != nil {
		return nil, err
	}

	session, err := s.startSession(ctx, user, false)
	if err != nil {
		return nil, err
	}
	return &BiometricResult{CeremonyResult: result, Session: session}, nil
}

// RegisterWithContract registers an identity on-chain when possible and
// always records it off-chain. The chain step is best effort: when it does
// not complete the user is flagged for a later sync. The off-chain step is
// mandatory.
func (s *AuthService) RegisterWithContract(ctx context.Context, in ContractRegistration) (*core.AuthSession, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.checkStrength(in.Password); err != nil {
		return nil, err
	}

	// An existing identity may only be re-registered by its owner
	existing, err := s.users.GetByUsername(ctx, in.Username)
	switch {
	case err == nil:
		if !existing.HasPassword() || !s.verifier.Verify(in.Password, existing.PasswordHash) {
			return nil, core.ErrAlreadyExists
		}
	case !errors.Is(err, core.ErrUserNotFound):
		return nil, err
	}

	wallet := s.registerOnChain(ctx, in)

	hash, err := s.verifier.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	candidate := &core.User{
		Email:         s.placeholderEmail(in.Username),
		Username:      in.Username,
		PasswordHash:  hash,
		WalletAddress: wallet,
	}

	var user *core.User
	if wallet != "" {
		user, err = s.users.UpsertByWallet(ctx, candidate)
	} else {
		user, err = s.users.UpsertContractUser(ctx, candidate)
		if err == nil && user.WalletAddress == "" {
			s.markChainSyncPending(ctx, user)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record contract user: %w", err)
	}

	s.logger.Info("Contract identity registered", watermill.LogFields{
		"user_id":  user.ID,
		"on_chain": wallet != "",
	})
	return s.startSession(ctx, user, wallet == "")
}

// registerOnChain runs the best effort chain step and returns the resolved
// account, or "" when it did not complete
func (s *AuthService) registerOnChain(ctx context.Context, in ContractRegistration) string {
	if !s.chainAvailable(ctx) {
		s.metrics.chainFallback("register")
		s.logger.Info("Chain unavailable, registering off-chain only", watermill.LogFields{
			"username": in.Username,
			"mode":     OutcomeDegraded,
		})
		return ""
	}

	commitment := chain.PasswordCommitment(in.Username, in.Password)

	cctx, cancel := context.WithTimeout(ctx, s.opts.ChainTimeout)
	ref, err := s.ledger.RegisterOnChain(cctx, in.Username, commitment, chain.SocialIDHash(in.SocialID), in.SocialProvider)
	cancel()
	if err != nil {
		s.metrics.chainFallback("register")
		s.logger.Error("On-chain registration failed", err, watermill.LogFields{"username": in.Username})
		return ""
	}

	cctx, cancel = context.WithTimeout(ctx, s.opts.ChainTimeout)
	account, err := s.ledger.AuthenticateOnChain(cctx, in.Username, commitment)
	cancel()
	if err != nil {
		s.metrics.chainFallback("register")
		s.logger.Error("On-chain account lookup failed", err, watermill.LogFields{
			"username": in.Username,
			"tx":       ref.Hash,
		})
		return ""
	}

	return account
}

// LoginWithContract authenticates against the identity registry and falls
// back to the off-chain record when the chain cannot answer. An explicit
// rejection by the registry is final.
func (s *AuthService) LoginWithContract(ctx context.Context, in ContractLogin) (*core.AuthSession, error) {
	if err := s.check(in); err != nil {
		s.metrics.authAttempt(MethodContract, OutcomeFailure)
		return nil, core.ErrInvalidCredentials
	}

	if !s.chainAvailable(ctx) {
		return s.contractFallback(ctx, in, "chain probe failed")
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.ChainTimeout)
	account, err := s.ledger.AuthenticateOnChain(cctx, in.Username, chain.PasswordCommitment(in.Username, in.Password))
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, core.ErrChainRejected):
		s.metrics.authAttempt(MethodContract, OutcomeFailure)
		return nil, core.ErrInvalidCredentials
	default:
		s.logger.Error("On-chain authentication unavailable", err, watermill.LogFields{"username": in.Username})
		return s.contractFallback(ctx, in, "chain call failed")
	}

	user, err := s.reconcile(ctx, in, account)
	if err != nil {
		return nil, err
	}

	s.metrics.authAttempt(MethodContract, OutcomeSuccess)
	return s.startSession(ctx, user, false)
}

// reconcile makes sure the off-chain store holds the account confirmed by
// the registry. The first login after an on-chain registration creates the
// row; a row flagged for sync, or one registered under the same username
// while the chain was down, is linked and cleared. An adopted row whose
// password differs from the chain-proven one gets the proven password and
// loses its sessions.
func (s *AuthService) reconcile(ctx context.Context, in ContractLogin, account string) (*core.User, error) {
	existing, err := s.users.GetByWallet(ctx, account)
	if err == nil && !existing.ChainSyncPending {
		return existing, nil
	}
	if errors.Is(err, core.ErrUserNotFound) {
		existing, err = s.users.GetByUsername(ctx, in.Username)
	}
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		existing = nil
	case err != nil:
		return nil, err
	}

	candidate := &core.User{
		Email:         s.placeholderEmail(in.Username),
		Username:      in.Username,
		WalletAddress: account,
	}
	stale := existing != nil && !s.verifier.Verify(in.Password, existing.PasswordHash)
	if existing == nil || stale {
		hash, err := s.verifier.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		candidate.PasswordHash = hash
	}

	user, err := s.users.UpsertByWallet(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile contract user: %w", err)
	}

	if stale {
		revoked, err := s.sessions.InvalidateAll(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to revoke sessions of reconciled user: %w", err)
		}
		s.logger.Info("Replaced off-chain password with chain-proven one", watermill.LogFields{
			"user_id":  user.ID,
			"username": in.Username,
			"revoked":  revoked,
		})
	}
	return user, nil
}

func (s *AuthService) contractFallback(ctx context.Context, in ContractLogin, reason string) (*core.AuthSession, error) {
	s.metrics.chainFallback("login")
	s.logger.Info("Authenticating contract user off-chain", watermill.LogFields{
		"username": in.Username,
		"mode":     OutcomeDegraded,
		"reason":   reason,
	})

	user, err := s.users.GetByEmail(ctx, s.placeholderEmail(in.Username))
	if err != nil {
		s.metrics.authAttempt(MethodContract, OutcomeFailure)
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.HasPassword() || !s.verifier.Verify(in.Password, user.PasswordHash) {
		s.metrics.authAttempt(MethodContract, OutcomeFailure)
		return nil, core.ErrInvalidCredentials
	}

	s.metrics.authAttempt(MethodContract, OutcomeDegraded)
	return s.startSession(ctx, user, true)
}

// AuthMethods lists the methods a user can authenticate with. Methods linked
// on-chain are included when the registry can be reached.
func (s *AuthService) AuthMethods(ctx context.Context, userID string) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var methods []string
	if user.HasPassword() {
		methods = append(methods, MethodPassword)
	}

	credentials, err := s.ceremonies.Credentials(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(credentials) > 0 {
		methods = append(methods, MethodBiometric)
	}

	if user.WalletAddress == "" {
		return methods, nil
	}
	methods = append(methods, MethodContract)

	if !s.chainAvailable(ctx) {
		s.metrics.chainFallback("auth_methods")
		return methods, nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.ChainTimeout)
	linked, err := s.ledger.QueryAuthMethods(cctx, user.WalletAddress)
	cancel()
	if err != nil {
		s.metrics.chainFallback("auth_methods")
		s.logger.Error("Failed to query linked auth methods", err, watermill.LogFields{"user_id": user.ID})
		return methods, nil
	}

	return mergeMethods(methods, linked), nil
}

// Refresh exchanges a refresh token for a new pair
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout revokes the session holding refreshToken
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Invalidate(ctx, refreshToken)
}

// LogoutAll revokes every session of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.sessions.InvalidateAll(ctx, userID)
}

// GetSessions lists the user's active sessions
func (s *AuthService) GetSessions(ctx context.Context, userID string) ([]*core.Session, error) {
	return s.sessions.GetSessions(ctx, userID)
}

// SweepExpired deletes expired sessions
func (s *AuthService) SweepExpired(ctx context.Context) (int64, error) {
	return s.sessions.SweepExpired(ctx)
}

// Authenticate resolves an access token to its claims
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*core.TokenClaims, error) {
	return s.sessions.Authenticate(ctx, accessToken)
}

// User loads a user by id
func (s *AuthService) User(ctx context.Context, userID string) (*core.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) startSession(ctx context.Context, user *core.User, degraded bool) (*core.AuthSession, error) {
	pair, session, err := s.sessions.Start(ctx, user)
	if err != nil {
		return nil, err
	}
	return &core.AuthSession{User: user, Tokens: pair, Session: session, Degraded: degraded}, nil
}

func (s *AuthService) chainAvailable(ctx context.Context) bool {
	return s.ledger != nil && s.ledger.IsAvailable(ctx)
}

func (s *AuthService) markChainSyncPending(ctx context.Context, user *core.User) {
	err := s.users.SetChainSyncPending(ctx, user.ID, true)
	switch {
	case err == nil:
		user.ChainSyncPending = true
	case errors.Is(err, core.ErrFeatureUnavailable):
	default:
		s.logger.Error("Failed to flag user for chain sync", err, watermill.LogFields{"user_id": user.ID})
	}
}

func (s *AuthService) placeholderEmail(username string) string {
	return strings.ToLower(username) + "@" + s.opts.FallbackEmailDomain
}

func (s *AuthService) checkStrength(password string) error {
	if result := s.verifier.ValidateStrength(password); !result.Valid {
		return &core.WeakPasswordError{Reason: result.Reason}
	}
	return nil
}

// check validates input shape and reports the first offending field
func (s *AuthService) check(in interface{}) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &core.ValidationError{Field: fieldErrs[0].Field(), Reason: "failed " + fieldErrs[0].Tag()}
	}
	return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
}

func mergeMethods(local, linked []string) []string {
	seen := make(map[string]bool, len(local)+len(linked))
	merged := make([]string, 0, len(local)+len(linked))
	for _, m := range append(local, linked...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		merged = append(merged, m)
	}
	return merged
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
