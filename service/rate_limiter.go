package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/internal/metrics"
	"github.com/layer-3/otpgate/ports"
	"go.uber.org/zap"
)

// RateLimiter decides whether a new challenge may be issued for an identity
type RateLimiter struct {
	store   ports.ChallengeStore
	policy  Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(store ports.ChallengeStore, policy Policy, opts Options) *RateLimiter {
	opts = opts.withDefaults()
	return &RateLimiter{
		store:   store,
		policy:  policy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Admit checks the otp lock, the spam lock and the cooldown, in that order
func (l *RateLimiter) Admit(ctx context.Context, identity string) error {
	checks := []struct {
		key    string
		reason core.RateLimitReason
	}{
		{otpLockKey(identity), core.ReasonLockedForFailedAttempts},
		{spamLockKey(identity), core.ReasonTooManyRequests},
		{cooldownKey(identity), core.ReasonCooldownActive},
	}

	for _, c := range checks {
		ttl, err := l.store.TTL(ctx, c.key)
		if errors.Is(err, ports.ErrNotFound) {
			continue
		}
		if err != nil {
			l.metrics.StoreError()
			return fmt.Errorf("failed to check %s: %w", c.reason, err)
		}
		return l.deny(identity, c.reason, ttl)
	}

	return nil
}

// Record books a new request after Admit succeeded.
// The cooldown slot is claimed first so concurrent requests cannot both pass.
// The request that reaches the limit is still allowed and sets the spam lock.
func (l *RateLimiter) Record(ctx context.Context, identity string) error {
	claimed, err := l.store.SetIfAbsent(ctx, cooldownKey(identity), "true", l.policy.Cooldown)
	if err != nil {
		l.metrics.StoreError()
		return fmt.Errorf("failed to claim cooldown: %w", err)
	}
	if !claimed {
		return l.deny(identity, core.ReasonCooldownActive, l.retryAfter(ctx, cooldownKey(identity)))
	}

	res, err := l.store.Increment(ctx, ports.Counter{
		Key:     requestCountKey(identity),
		TTL:     l.policy.RequestWindow,
		LockKey: spamLockKey(identity),
		LockTTL: l.policy.SpamLockTTL,
		Limit:   int64(l.policy.MaxRequests),
	})
	if err != nil {
		l.metrics.StoreError()
		return fmt.Errorf("failed to count request: %w", err)
	}

	if res.AlreadyLocked || res.Count > int64(l.policy.MaxRequests) {
		return l.deny(identity, core.ReasonTooManyRequests, l.retryAfter(ctx, spamLockKey(identity)))
	}
	if res.Locked {
		l.logger.Info("challenge request quota used up, spam lock set",
			zap.String("identity", identity),
			zap.Duration("lock_ttl", l.policy.SpamLockTTL),
		)
	}

	return nil
}

// Touch restarts the cooldown after a successful issuance
func (l *RateLimiter) Touch(ctx context.Context, identity string) error {
	if err := l.store.SetWithTTL(ctx, cooldownKey(identity), "true", l.policy.Cooldown); err != nil {
		l.metrics.StoreError()
		return fmt.Errorf("failed to set cooldown: %w", err)
	}
	return nil
}

func (l *RateLimiter) deny(identity string, reason core.RateLimitReason, retryAfter time.Duration) error {
	l.metrics.ChallengeDenied(string(reason))
	l.logger.Info("challenge request denied",
		zap.String("identity", identity),
		zap.String("reason", string(reason)),
		zap.Duration("retry_after", retryAfter),
	)
	return &core.RateLimitedError{Reason: reason, RetryAfter: retryAfter}
}

// retryAfter is best effort; a failed lookup reports zero
func (l *RateLimiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return 0
	}
	return ttl
}
