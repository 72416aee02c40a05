package service

import (
	"time"

	"github.com/layer-3/otpgate/internal/metrics"
	"go.uber.org/zap"
)

// Policy holds the OTP and rate-limit parameters
type Policy struct {
	CodeLength        int
	CodeTTL           time.Duration
	Cooldown          time.Duration
	RequestWindow     time.Duration
	MaxRequests       int
	SpamLockTTL       time.Duration
	MaxFailedAttempts int
	FailedAttemptsTTL time.Duration
	LockTTL           time.Duration
	ResetGrantTTL     time.Duration
}

// DefaultPolicy returns the production policy
func DefaultPolicy() Policy {
	return Policy{
		CodeLength:        6,
		CodeTTL:           5 * time.Minute,
		Cooldown:          time.Minute,
		RequestWindow:     time.Hour,
		MaxRequests:       2,
		SpamLockTTL:       time.Hour,
		MaxFailedAttempts: 2,
		FailedAttemptsTTL: 30 * time.Minute,
		LockTTL:           30 * time.Minute,
		ResetGrantTTL:     10 * time.Minute,
	}
}

// Options carries the ambient dependencies shared by every service
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store keys, all scoped to a single identity
func codeKey(identity string) string { return "otp:" + identity }
func cooldownKey(identity string) string { return "otp_cooldown:" + identity }
func requestCountKey(identity string) string { return "otp_request_count:" + identity }
func spamLockKey(identity string) string { return "otp_spam_lock:" + identity }
func otpLockKey(identity string) string { return "otp_lock:" + identity }
func failedAttemptsKey(identity string) string { return "otp_failed_attempts:" + identity }
func resetGrantKey(identity string) string { return "reset_grant:" + identity }
