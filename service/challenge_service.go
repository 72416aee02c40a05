package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/internal/metrics"
	"github.com/layer-3/otpgate/ports"
	"go.uber.org/zap"
)

// ChallengeService issues and verifies OTP challenges
type ChallengeService struct {
	store    ports.ChallengeStore
	limiter  *RateLimiter
	notifier ports.Notifier
	policy   Policy
	opts     Options
	random   io.Reader
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewChallengeService creates a new challenge service
func NewChallengeService(
	store ports.ChallengeStore,
	limiter *RateLimiter,
	notifier ports.Notifier,
	policy Policy,
	opts Options,
) *ChallengeService {
	opts = opts.withDefaults()
	return &ChallengeService{
		store:    store,
		limiter:  limiter,
		notifier: notifier,
		policy:   policy,
		opts:     opts,
		random:   rand.Reader,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Issue generates a code for identity, stores it and hands it to the notifier.
// data is passed to the template; the code is added under "otp".
func (s *ChallengeService) Issue(ctx context.Context, identity string, purpose core.Purpose, template string, data map[string]any) (core.Challenge, error) {
	if err := s.limiter.Admit(ctx, identity); err != nil {
		return core.Challenge{}, err
	}
	if err := s.limiter.Record(ctx, identity); err != nil {
		return core.Challenge{}, err
	}

	code, err := generateCode(s.random, s.policy.CodeLength)
	if err != nil {
		return core.Challenge{}, fmt.Errorf("failed to generate code: %w", err)
	}

	now := s.opts.Now()
	if err := s.store.SetWithTTL(ctx, codeKey(identity), code, s.policy.CodeTTL); err != nil {
		s.metrics.StoreError()
		return core.Challenge{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["otp"] = code

	// The stored challenge stays valid when delivery fails; the caller may resend after the cooldown
	if err := s.notifier.Send(ctx, identity, template, payload); err != nil {
		s.logger.Warn("challenge delivery failed",
			zap.String("identity", identity),
			zap.String("template", template),
			zap.Error(err),
		)
	}

	if err := s.limiter.Touch(ctx, identity); err != nil {
		return core.Challenge{}, err
	}

	s.metrics.ChallengeIssued(string(purpose))
	s.logger.Info("challenge issued",
		zap.String("identity", identity),
		zap.String("purpose", string(purpose)),
	)

	return core.Challenge{
		Identity:  identity,
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.policy.CodeTTL),
	}, nil
}

// Verify checks a submitted code. A nil error means the code matched and was consumed.
func (s *ChallengeService) Verify(ctx context.Context, identity, code string) error {
	res, err := s.store.Consume(ctx, ports.ConsumeRequest{
		Key:      codeKey(identity),
		Value:    code,
		GuardKey: otpLockKey(identity),
		Clear: []string{
			failedAttemptsKey(identity),
			cooldownKey(identity),
			requestCountKey(identity),
		},
	})
	if err != nil {
		s.metrics.StoreError()
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	switch res {
	case ports.ConsumeGuarded:
		return s.reject(identity, "locked", core.ErrAccountLocked)
	case ports.ConsumeMissing:
		return s.reject(identity, "expired", core.ErrChallengeExpired)
	case ports.ConsumeMatched:
		s.metrics.Verification("verified")
		s.logger.Info("challenge verified", zap.String("identity", identity))
		return nil
	}

	counter, err := s.store.Increment(ctx, ports.Counter{
		Key:         failedAttemptsKey(identity),
		TTL:         s.policy.FailedAttemptsTTL,
		LockKey:     otpLockKey(identity),
		LockTTL:     s.policy.LockTTL,
		Limit:       int64(s.policy.MaxFailedAttempts),
		ResetOnLock: true,
		SlidingTTL:  true,
	})
	if err != nil {
		s.metrics.StoreError()
		return fmt.Errorf("failed to count failed attempt: %w", err)
	}

	if counter.AlreadyLocked || counter.Locked {
		return s.reject(identity, "locked", core.ErrAccountLocked)
	}

	remaining := s.policy.MaxFailedAttempts - int(counter.Count)
	return s.reject(identity, "invalid", &core.InvalidCodeError{Remaining: remaining})
}

func (s *ChallengeService) reject(identity, outcome string, err error) error {
	s.metrics.Verification(outcome)
	s.logger.Info("challenge rejected",
		zap.String("identity", identity),
		zap.String("outcome", outcome),
	)
	return err
}

// generateCode returns a zero-padded decimal code drawn uniformly from [0, 10^digits)
func generateCode(random io.Reader, digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(random, max)
	if err != nil {
		return "", err
	}
	code := n.Text(10)
	if pad := digits - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}
