package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const AudienceAccess = "session:access"
const AudienceRefresh = "session:refresh"

// Config holds the signing secrets and lifetimes of both token kinds
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// JWTTokenizer implements the Tokenizer interface using HMAC signed JWTs.
// Access and refresh tokens use independent secrets so one cannot be
// presented as the other.
type JWTTokenizer struct {
	cfg Config
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(cfg Config) (ports.Tokenizer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("token secrets must not be empty")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour // 7 days
	}
	return &JWTTokenizer{cfg: cfg}, nil
}

// IssueAccess signs a short lived access token
func (j *JWTTokenizer) IssueAccess(payload core.TokenPayload, sessionID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(j.cfg.AccessTTL)
	token, err := j.sign(payload, sessionID, AudienceAccess, now, expiresAt, j.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, expiresAt, nil
}

// IssueRefresh signs a refresh token
func (j *JWTTokenizer) IssueRefresh(payload core.TokenPayload, sessionID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(j.cfg.RefreshTTL)
	token, err := j.sign(payload, sessionID, AudienceRefresh, now, expiresAt, j.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseAccess verifies an access token
func (j *JWTTokenizer) ParseAccess(tokenStr string) (*core.TokenClaims, error) {
	return j.parse(tokenStr, AudienceAccess, j.cfg.AccessSecret)
}

// ParseRefresh verifies a refresh token
func (j *JWTTokenizer) ParseRefresh(tokenStr string) (*core.TokenClaims, error) {
	return j.parse(tokenStr, AudienceRefresh, j.cfg.RefreshSecret)
}

func (j *JWTTokenizer) sign(payload core.TokenPayload, sessionID, audience string, now, expiresAt time.Time, secret []byte) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.UserID,
			ID:        uuid.New().String(),
			Issuer:    j.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{audience},
		},
		Email:         payload.Email,
		WalletAddress: payload.WalletAddress,
		SessionID:     sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (j *JWTTokenizer) parse(tokenStr, audience string, secret []byte) (*core.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithAudience(audience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.Subject == "" || claims.SessionID == "" {
		return nil, core.ErrInvalidToken
	}

	result := &core.TokenClaims{
		TokenPayload: core.TokenPayload{
			UserID:        claims.Subject,
			Email:         claims.Email,
			WalletAddress: claims.WalletAddress,
		},
		ID:        claims.ID,
		SessionID: claims.SessionID,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}

	return result, nil
}
