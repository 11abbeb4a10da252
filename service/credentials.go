package service

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores input past 72 bytes
)

// StrengthResult is the outcome of a password strength check
type StrengthResult struct {
	Valid  bool
	Reason string
}

// CredentialVerifier hashes and checks passwords. It holds no state besides
// the bcrypt cost.
type CredentialVerifier struct {
	cost int
}

// NewCredentialVerifier creates a verifier. A cost outside bcrypt's range
// selects bcrypt.DefaultCost.
func NewCredentialVerifier(cost int) *CredentialVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &CredentialVerifier{cost: cost}
}

// Hash returns a salted bcrypt hash of password
func (v *CredentialVerifier) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash. A malformed hash never matches.
func (v *CredentialVerifier) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidateStrength checks the password policy
func (v *CredentialVerifier) ValidateStrength(password string) StrengthResult {
	if len(password) < minPasswordLength {
		return StrengthResult{Reason: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	if len(password) > maxPasswordLength {
		return StrengthResult{Reason: fmt.Sprintf("password must be at most %d bytes", maxPasswordLength)}
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	switch {
	case !lower:
		return StrengthResult{Reason: "password must contain a lowercase letter"}
	case !upper:
		return StrengthResult{Reason: "password must contain an uppercase letter"}
	case !digit:
		return StrengthResult{Reason: "password must contain a digit"}
	}

	return StrengthResult{Valid: true}
}
