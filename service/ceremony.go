package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

var credentialIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+={0,2}$`)

// RelyingParty identifies this service to authenticators
type RelyingParty struct {
	ID          string
	DisplayName string
	Origins     []string
}

// CeremonyManager runs the WebAuthn registration and authentication
// ceremonies. Pending challenges live in the injected ChallengeStore and are
// consumed by the first completion attempt, successful or not.
type CeremonyManager struct {
	webauthn    *webauthn.WebAuthn
	users       ports.UserStore
	credentials ports.CredentialStore
	challenges  ports.ChallengeStore
	metrics     *Metrics
	logger      watermill.LoggerAdapter
	now         func() time.Time
}

// NewCeremonyManager creates a ceremony manager for a single relying party
func NewCeremonyManager(
	rp RelyingParty,
	users ports.UserStore,
	credentials ports.CredentialStore,
	challenges ports.ChallengeStore,
	metrics *Metrics,
	logger watermill.LoggerAdapter,
) (*CeremonyManager, error) {
	if rp.ID == "" || len(rp.Origins) == 0 {
		return nil, fmt.Errorf("relying party id and origin are required")
	}
	if rp.DisplayName == "" {
		rp.DisplayName = rp.ID
	}

	w, err := webauthn.New(&webauthn.Config{
		RPID:                  rp.ID,
		RPDisplayName:         rp.DisplayName,
		RPOrigins:             rp.Origins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}

	return &CeremonyManager{
		webauthn:    w,
		users:       users,
		credentials: credentials,
		challenges:  challenges,
		metrics:     metrics,
		logger:      logger.With(watermill.LogFields{"component": "ceremony"}),
		now:         time.Now,
	}, nil
}

// BeginRegistration issues registration options for email. The user row is
// created on first use so a device can be enrolled before any password is
// set. A pending registration for the same email is replaced.
func (m *CeremonyManager) BeginRegistration(ctx context.Context, email, displayName string, kind core.AuthenticatorKind) (*protocol.CredentialCreation, error) {
	email = normalizeEmail(email)
	user, err := m.resolveUser(ctx, email)
	if err != nil {
		return nil, err
	}

	wu, err := m.loadWebAuthnUser(ctx, user, displayName)
	if err != nil {
		return nil, err
	}

	selection := protocol.AuthenticatorSelection{
		UserVerification: protocol.VerificationRequired,
	}
	switch kind {
	case core.KindCrossPlatform:
		selection.AuthenticatorAttachment = protocol.CrossPlatform
		selection.ResidentKey = protocol.ResidentKeyRequirementDiscouraged
		selection.RequireResidentKey = protocol.ResidentKeyNotRequired()
	default:
		selection.AuthenticatorAttachment = protocol.Platform
		selection.ResidentKey = protocol.ResidentKeyRequirementRequired
		selection.RequireResidentKey = protocol.ResidentKeyRequired()
	}

	options, session, err := m.webauthn.BeginRegistration(wu,
		webauthn.WithAuthenticatorSelection(selection),
		webauthn.WithExclusions(webauthn.Credentials(wu.credentials).CredentialDescriptors()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if err := m.saveChallenge(ctx, core.ChallengeRegistration, user.Email, session); err != nil {
		return nil, err
	}

	return options, nil
}

// CompleteRegistration verifies an attestation against the pending challenge.
// Verification failures are reported in the result; errors are reserved for
// missing state and storage problems.
func (m *CeremonyManager) CompleteRegistration(ctx context.Context, email string, attestation *protocol.ParsedCredentialCreationData) (core.CeremonyResult, error) {
	email = normalizeEmail(email)
	session, err := m.takeChallenge(ctx, core.ChallengeRegistration, email)
	if err != nil {
		return core.CeremonyResult{}, err
	}

	user, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		return core.CeremonyResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	if attestation == nil || !credentialIDPattern.MatchString(attestation.ID) {
		return m.fail("registration", user.ID, fmt.Errorf("%w: malformed credential id", core.ErrVerificationFailed)), nil
	}

	wu, err := m.loadWebAuthnUser(ctx, user, "")
	if err != nil {
		return core.CeremonyResult{}, err
	}

	credential, err := m.webauthn.CreateCredential(wu, *session, attestation)
	if err != nil {
		return m.fail("registration", user.ID, fmt.Errorf("%w: %v", core.ErrVerificationFailed, describe(err))), nil
	}

	now := m.now()
	stored := fromWebAuthnCredential(credential, user.ID)
	stored.CreatedAt = now
	if err := m.credentials.Create(ctx, stored); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			return core.CeremonyResult{}, fmt.Errorf("credential already registered: %w", err)
		}
		return core.CeremonyResult{}, fmt.Errorf("failed to store credential: %w", err)
	}

	m.metrics.ceremony("registration", OutcomeSuccess)
	m.logger.Info("Credential registered", watermill.LogFields{"user_id": user.ID})

	return core.CeremonyResult{Verified: true, UserID: user.ID}, nil
}

// BeginAuthentication issues assertion options scoped to the user's
// registered credentials
func (m *CeremonyManager) BeginAuthentication(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	email = normalizeEmail(email)
	user, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrUserNotFound) {
			return nil, core.ErrNoCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	wu, err := m.loadWebAuthnUser(ctx, user, "")
	if err != nil {
		return nil, err
	}
	if len(wu.credentials) == 0 {
		return nil, core.ErrNoCredentials
	}

	options, session, err := m.webauthn.BeginLogin(wu,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}

	if err := m.saveChallenge(ctx, core.ChallengeAuthentication, user.Email, session); err != nil {
		return nil, err
	}

	return options, nil
}

// CompleteAuthentication verifies an assertion and advances the credential's
// signature counter. A counter that did not increase fails with
// core.ErrReplayDetected.
func (m *CeremonyManager) CompleteAuthentication(ctx context.Context, email string, assertion *protocol.ParsedCredentialAssertionData) (core.CeremonyResult, error) {
	email = normalizeEmail(email)
	session, err := m.takeChallenge(ctx, core.ChallengeAuthentication, email)
	if err != nil {
		return core.CeremonyResult{}, err
	}

	user, err := m.users.GetByEmail(ctx, email)
	if err != nil {
		return core.CeremonyResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	if assertion == nil {
		return m.fail("authentication", user.ID, fmt.Errorf("%w: empty assertion", core.ErrVerificationFailed)), nil
	}

	stored, err := m.credentials.GetByID(ctx, assertion.RawID)
	if err != nil {
		return core.CeremonyResult{}, err
	}
	if stored.UserID != user.ID {
		return core.CeremonyResult{}, core.ErrCredentialNotFound
	}

	wu, err := m.loadWebAuthnUser(ctx, user, "")
	if err != nil {
		return core.CeremonyResult{}, err
	}

	credential, err := m.webauthn.ValidateLogin(wu, *session, assertion)
	if err != nil {
		return m.fail("authentication", user.ID, fmt.Errorf("%w: %v", core.ErrVerificationFailed, describe(err))), nil
	}

	if credential.Authenticator.CloneWarning {
		m.logger.Info("Signature counter did not increase", watermill.LogFields{
			"user_id": user.ID,
			"stored":  stored.SignCount,
		})
		return m.fail("authentication", user.ID, core.ErrReplayDetected), nil
	}

	if err := m.credentials.UpdateCounter(ctx, stored.ID, credential.Authenticator.SignCount, m.now()); err != nil {
		return core.CeremonyResult{}, fmt.Errorf("failed to update credential: %w", err)
	}

	m.metrics.ceremony("authentication", OutcomeSuccess)
	return core.CeremonyResult{Verified: true, UserID: user.ID}, nil
}

// Credentials lists the credentials registered by a user
func (m *CeremonyManager) Credentials(ctx context.Context, userID string) ([]*core.BiometricCredential, error) {
	return m.credentials.ListByUser(ctx, userID)
}

func (m *CeremonyManager) fail(kind, userID string, reason error) core.CeremonyResult {
	m.metrics.ceremony(kind, OutcomeFailure)
	m.logger.Debug("Ceremony failed", watermill.LogFields{
		"kind":    kind,
		"user_id": userID,
		"reason":  reason.Error(),
	})
	return core.CeremonyResult{Verified: false, UserID: userID, Failure: reason}
}

func (m *CeremonyManager) resolveUser(ctx context.Context, email string) (*core.User, error) {
	user, err := m.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	user = &core.User{Email: email}
	if err := m.users.Create(ctx, user); err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			// Lost a race with a concurrent begin for the same email
			return m.users.GetByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (m *CeremonyManager) loadWebAuthnUser(ctx context.Context, user *core.User, displayName string) (*webauthnUser, error) {
	stored, err := m.credentials.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		credentials = append(credentials, toWebAuthnCredential(c))
	}

	if displayName == "" {
		displayName = user.Email
	}
	return &webauthnUser{user: user, displayName: displayName, credentials: credentials}, nil
}

func (m *CeremonyManager) saveChallenge(ctx context.Context, kind core.ChallengeKind, subject string, session *webauthn.SessionData) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal ceremony state: %w", err)
	}

	record := &core.ChallengeRecord{
		Kind:     kind,
		Subject:  subject,
		Data:     data,
		IssuedAt: m.now(),
	}
	if err := m.challenges.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	return nil
}

func (m *CeremonyManager) takeChallenge(ctx context.Context, kind core.ChallengeKind, email string) (*webauthn.SessionData, error) {
	record, err := m.challenges.Take(ctx, kind, email)
	if err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(record.Data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ceremony state: %w", err)
	}
	return &session, nil
}

// describe prefers the detailed message of protocol errors
func describe(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.Details != "" {
		return perr.Details
	}
	return err.Error()
}

// webauthnUser adapts core.User to webauthn.User
type webauthnUser struct {
	user        *core.User
	displayName string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func toWebAuthnCredential(c *core.BiometricCredential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

func fromWebAuthnCredential(c *webauthn.Credential, userID string) *core.BiometricCredential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}

	return &core.BiometricCredential{
		ID:              c.ID,
		UserID:          userID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transports:      transports,
		AAGUID:          c.Authenticator.AAGUID,
		SignCount:       c.Authenticator.SignCount,
		BackupEligible:  c.Flags.BackupEligible,
		BackupState:     c.Flags.BackupState,
	}
}
