package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = errors.New("password too weak")
	ErrInvalidInput       = errors.New("invalid input")

	ErrChallengeExpired   = errors.New("challenge expired or not found")
	ErrNoCredentials      = errors.New("no credentials registered")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrReplayDetected     = errors.New("signature counter did not increase")
	ErrVerificationFailed = errors.New("ceremony verification failed")

	ErrChainUnavailable = errors.New("chain unavailable")
	ErrChainRejected    = errors.New("chain rejected request")

	ErrSessionNotFound = errors.New("session not found")
	ErrTokenExpired    = errors.New("token has expired")
	ErrInvalidToken    = errors.New("invalid token")

	ErrFeatureUnavailable = errors.New("feature unavailable")
)

// WeakPasswordError carries the reason a password was refused
type WeakPasswordError struct {
	Reason string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("%s: %s", ErrWeakPassword, e.Reason)
}

func (e *WeakPasswordError) Unwrap() error {
	return ErrWeakPassword
}

// ValidationError reports a malformed input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
