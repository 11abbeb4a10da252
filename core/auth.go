package core

import "time"

// User is an account known to the off-chain store
type User struct {
	ID               string    // Unique user identifier
	Email            string    // Unique email, or a placeholder for contract-only users
	Username         string    // Optional unique username
	PasswordHash     string    // Optional bcrypt hash
	WalletAddress    string    // Optional on-chain account, EIP-55 hex
	ChainSyncPending bool      // Set while the on-chain identity has not been confirmed
	CreatedAt        time.Time // When the user was created
	UpdatedAt        time.Time // When the user was last modified
}

// HasPassword reports whether the user can authenticate with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// BiometricCredential is a WebAuthn public key credential bound to a user
type BiometricCredential struct {
	ID              []byte    // Credential id chosen by the authenticator
	UserID          string    // Owner of the credential
	PublicKey       []byte    // COSE encoded public key
	AttestationType string    // Attestation format reported at registration
	Transports      []string  // Transports the authenticator advertised
	AAGUID          []byte    // Authenticator model identifier
	SignCount       uint32    // Last accepted signature counter
	BackupEligible  bool      // Credential may be synced between devices
	BackupState     bool      // Credential is currently backed up
	CreatedAt       time.Time // When the credential was registered
	LastUsedAt      time.Time // When the credential last produced a valid assertion
}

// Session represents an authenticated user session
type Session struct {
	ID           string    // Unique session identifier
	UserID       string    // Owner of the session
	AccessToken  string    // Most recently issued access token
	RefreshToken string    // Current refresh token, unique across sessions
	ExpiresAt    time.Time // Absolute expiry, unchanged by refresh
	CreatedAt    time.Time // When the session was created
	UpdatedAt    time.Time // When the refresh token was last rotated
}

// Expired reports whether the session is past its absolute expiry
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TokenPayload is the identity carried inside signed tokens
type TokenPayload struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// TokenClaims is a decoded and verified token
type TokenClaims struct {
	TokenPayload
	ID        string    // Token id (jti)
	SessionID string    // Session the token belongs to
	IssuedAt  time.Time // When the token was signed
	ExpiresAt time.Time // When the token stops being accepted
}

// TokenPair is the pair of tokens handed to a client
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ContractIdentity is the identity record held by the on-chain registry
type ContractIdentity struct {
	Username    string   // Registered username
	Account     string   // Account address bound to the identity
	Verified    bool     // Identity passed registry verification
	Locked      bool     // Identity is locked by the registry
	AuthMethods []string // Authentication methods linked to the account
}

// TxReference identifies a transaction submitted to the chain
type TxReference struct {
	Hash        string // Transaction hash
	BlockNumber uint64 // Block the transaction was included in
	GasUsed     uint64 // Gas consumed by the transaction
}

// ChallengeKind distinguishes the two WebAuthn ceremonies
type ChallengeKind string

const (
	ChallengeRegistration   ChallengeKind = "registration"
	ChallengeAuthentication ChallengeKind = "authentication"
)

// ChallengeRecord is the pending state of a ceremony
type ChallengeRecord struct {
	Kind     ChallengeKind // Ceremony the challenge belongs to
	Subject  string        // User identifier, normally the email
	Data     []byte        // Serialized ceremony state
	IssuedAt time.Time     // When the challenge was issued
}

// AuthenticatorKind selects the authenticator attachment for registration
type AuthenticatorKind string

const (
	KindPlatform      AuthenticatorKind = "platform"
	KindCrossPlatform AuthenticatorKind = "cross-platform"
)

// CeremonyResult is the verdict of a completed ceremony.
// Failure is set when Verified is false.
type CeremonyResult struct {
	Verified bool
	UserID   string
	Failure  error
}

// AuthSession is what every successful authentication use case returns
type AuthSession struct {
	User     *User
	Tokens   TokenPair
	Session  *Session
	Degraded bool // Authenticated through the off-chain fallback
}
