package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/internal/metrics"
	"github.com/layer-3/otpgate/ports"
	"go.uber.org/zap"
)

// TokenService issues access/refresh pairs and mints access tokens from refresh tokens.
// Nothing is stored; a token's lifecycle is its signature and expiry.
type TokenService struct {
	tokenizer  ports.Tokenizer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewTokenService creates a new token service
func NewTokenService(tokenizer ports.Tokenizer, accessTTL, refreshTTL time.Duration, opts Options) *TokenService {
	opts = opts.withDefaults()
	return &TokenService{
		tokenizer:  tokenizer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// IssueTokenPair signs an access and a refresh token carrying subjectID and role
func (s *TokenService) IssueTokenPair(subjectID, role string) (core.TokenPair, error) {
	now := s.now()

	access, err := s.sign(core.TokenTypeAccess, subjectID, role, now, s.accessTTL)
	if err != nil {
		return core.TokenPair{}, err
	}
	refresh, err := s.sign(core.TokenTypeRefresh, subjectID, role, now, s.refreshTTL)
	if err != nil {
		return core.TokenPair{}, err
	}

	return core.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}, nil
}

// RotateAccessToken verifies a refresh token and issues a new access token with the same claims.
// A non-empty role must match the token's role claim. The refresh token itself is left untouched.
func (s *TokenService) RotateAccessToken(refreshToken, role string) (string, core.Claims, error) {
	claims, err := s.tokenizer.Parse(core.TokenTypeRefresh, refreshToken)
	if err == nil && role != "" && claims.Role != role {
		err = core.ErrRoleMismatch
	}
	if err != nil {
		reason := failureReason(err)
		s.metrics.RefreshFailed(reason)
		s.logger.Info("refresh token rejected", zap.String("reason", reason), zap.Error(err))
		return "", core.Claims{}, err
	}

	now := s.now()
	access, err := s.sign(core.TokenTypeAccess, claims.SubjectID, claims.Role, now, s.accessTTL)
	if err != nil {
		return "", core.Claims{}, err
	}

	return access, core.Claims{
		SubjectID: claims.SubjectID,
		Role:      claims.Role,
		Type:      core.TokenTypeAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	}, nil
}

// ValidateAccessToken verifies an access token and returns its claims
func (s *TokenService) ValidateAccessToken(accessToken string) (core.Claims, error) {
	claims, err := s.tokenizer.Parse(core.TokenTypeAccess, accessToken)
	if err != nil {
		s.logger.Debug("access token rejected", zap.String("reason", failureReason(err)))
		return core.Claims{}, err
	}
	return claims, nil
}

func (s *TokenService) sign(tokenType core.TokenType, subjectID, role string, now time.Time, ttl time.Duration) (string, error) {
	token, err := s.tokenizer.Sign(core.Claims{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Role:      role,
		Type:      tokenType,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create %s token: %w", tokenType, err)
	}
	s.metrics.TokenIssued(string(tokenType))
	return token, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, core.ErrExpiredToken):
		return "expired"
	case errors.Is(err, core.ErrSignatureMismatch):
		return "signature"
	case errors.Is(err, core.ErrRoleMismatch):
		return "role"
	default:
		return "malformed"
	}
}
