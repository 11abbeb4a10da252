package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with the session payload
type SessionClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	WalletAddress string `json:"wallet,omitempty"`
	SessionID     string `json:"sid"`
}
