package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited      = errors.New("challenge rate limited")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrInvalidCode      = errors.New("invalid code")
	ErrAccountLocked    = errors.New("account locked")

	ErrUnauthorized      = errors.New("unauthorized")
	ErrMalformedToken    = fmt.Errorf("%w: malformed token", ErrUnauthorized)
	ErrExpiredToken      = fmt.Errorf("%w: token has expired", ErrUnauthorized)
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	ErrRoleMismatch      = fmt.Errorf("%w: role mismatch", ErrUnauthorized)

	ErrStoreUnavailable = errors.New("challenge store unavailable")

	ErrValidation         = errors.New("invalid request data")
	ErrIdentityExists     = errors.New("identity already exists")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrResetNotAuthorized = errors.New("password reset not authorized")
	ErrSamePassword       = errors.New("new password must differ from the old password")
)

// RateLimitReason says which rule denied a challenge request
type RateLimitReason string

const (
	ReasonLockedForFailedAttempts RateLimitReason = "locked-for-failed-attempts"
	ReasonTooManyRequests         RateLimitReason = "too-many-requests"
	ReasonCooldownActive          RateLimitReason = "cooldown-active"
)

// RateLimitedError is returned when a new challenge may not be issued yet
type RateLimitedError struct {
	Reason     RateLimitReason
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRateLimited, e.Reason)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// InvalidCodeError reports a wrong code together with the attempts left before lockout
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%s: %d attempt(s) remaining", ErrInvalidCode, e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error {
	return ErrInvalidCode
}
