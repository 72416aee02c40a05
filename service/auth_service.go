package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/ports"
	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const resetGranted = "granted"

// AuthService drives registration, password reset, re-verification and login
// on top of the challenge and token services
type AuthService struct {
	challenges  *ChallengeService
	tokens      *TokenService
	identities  ports.IdentityStore
	hasher      ports.PasswordHasher
	store       ports.ChallengeStore
	eventPub    ports.EventPublisher
	policy      Policy
	companyName string

	now    func() time.Time
	logger *zap.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	challenges *ChallengeService,
	tokens *TokenService,
	identities ports.IdentityStore,
	hasher ports.PasswordHasher,
	store ports.ChallengeStore,
	eventPub ports.EventPublisher,
	policy Policy,
	companyName string,
	opts Options,
) *AuthService {
	opts = opts.withDefaults()
	return &AuthService{
		challenges:  challenges,
		tokens:      tokens,
		identities:  identities,
		hasher:      hasher,
		store:       store,
		eventPub:    eventPub,
		policy:      policy,
		companyName: companyName,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// RequestChallenge issues an OTP for req.Identity using the mail template of req.Purpose
func (s *AuthService) RequestChallenge(ctx context.Context, req core.ChallengeRequest) (core.Challenge, error) {
	data := map[string]any{
		"name":        req.Name,
		"companyName": s.companyName,
		"year":        s.now().Year(),
	}

	challenge, err := s.challenges.Issue(ctx, req.Identity, req.Purpose, templateFor(req.Purpose, req.Role), data)
	if err != nil {
		var limited *core.RateLimitedError
		if errors.As(err, &limited) {
			s.publish(ctx, core.Event{
				Type:     core.EventChallengeDenied,
				Identity: req.Identity,
				Purpose:  req.Purpose,
				Reason:   string(limited.Reason),
			})
		}
		return core.Challenge{}, err
	}

	s.publish(ctx, core.Event{
		Type:     core.EventChallengeIssued,
		Identity: req.Identity,
		Purpose:  req.Purpose,
	})
	return challenge, nil
}

// VerifyChallenge checks code against the pending challenge for identity
func (s *AuthService) VerifyChallenge(ctx context.Context, identity string, purpose core.Purpose, code string) error {
	if err := s.challenges.Verify(ctx, identity, code); err != nil {
		if !errors.Is(err, core.ErrStoreUnavailable) {
			s.publish(ctx, core.Event{
				Type:     core.EventChallengeRejected,
				Identity: identity,
				Purpose:  purpose,
				Reason:   rejectionReason(err),
			})
		}
		return err
	}

	s.publish(ctx, core.Event{
		Type:     core.EventChallengeVerified,
		Identity: identity,
		Purpose:  purpose,
	})
	return nil
}

// IssueSession signs a new token pair for an authenticated subject
func (s *AuthService) IssueSession(ctx context.Context, subjectID, role string) (core.TokenPair, error) {
	pair, err := s.tokens.IssueTokenPair(subjectID, role)
	if err != nil {
		return core.TokenPair{}, err
	}
	s.publish(ctx, core.Event{Type: core.EventSessionIssued, SubjectID: subjectID})
	return pair, nil
}

// RefreshSession returns a new access token for a valid refresh token.
// An empty role accepts a token of any role.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken, role string) (string, core.Claims, error) {
	access, claims, err := s.tokens.RotateAccessToken(refreshToken, role)
	if err != nil {
		s.publish(ctx, core.Event{Type: core.EventSessionRefreshFail, Reason: failureReason(err)})
		return "", core.Claims{}, err
	}
	s.publish(ctx, core.Event{Type: core.EventSessionRefreshed, SubjectID: claims.SubjectID})
	return access, claims, nil
}

// StartRegistration validates the sign-up form and sends an activation code
func (s *AuthService) StartRegistration(ctx context.Context, reg core.Registration) (core.Challenge, error) {
	if err := validateRegistration(reg); err != nil {
		return core.Challenge{}, err
	}
	if err := s.ensureAbsent(ctx, reg.Role, reg.Email); err != nil {
		return core.Challenge{}, err
	}

	return s.RequestChallenge(ctx, core.ChallengeRequest{
		Identity: reg.Email,
		Purpose:  core.PurposeActivation,
		Role:     reg.Role,
		Name:     reg.Name,
	})
}

// CompleteRegistration verifies the activation code and creates the account
func (s *AuthService) CompleteRegistration(ctx context.Context, reg core.Registration, code string) (*core.Account, error) {
	if err := validateRegistration(reg); err != nil {
		return nil, err
	}
	if err := s.ensureAbsent(ctx, reg.Role, reg.Email); err != nil {
		return nil, err
	}
	if err := s.VerifyChallenge(ctx, reg.Email, core.PurposeActivation, code); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, err
	}

	account := &core.Account{
		Role:         reg.Role,
		Email:        reg.Email,
		Name:         reg.Name,
		PasswordHash: hash,
		PhoneNumber:  reg.PhoneNumber,
		Country:      reg.Country,
		CreatedAt:    s.now(),
	}
	if err := s.identities.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.Info("account registered",
		zap.String("account_id", account.ID),
		zap.String("role", account.Role),
	)
	s.publish(ctx, core.Event{
		Type:      core.EventAccountRegistered,
		Identity:  account.Email,
		SubjectID: account.ID,
	})
	return account, nil
}

// StartPasswordReset sends a reset code to an existing account
func (s *AuthService) StartPasswordReset(ctx context.Context, role, email string) (core.Challenge, error) {
	if !core.ValidRole(role) || email == "" {
		return core.Challenge{}, fmt.Errorf("%w: role and email are required", core.ErrValidation)
	}

	account, err := s.identities.Lookup(ctx, role, email)
	if err != nil {
		return core.Challenge{}, err
	}

	return s.RequestChallenge(ctx, core.ChallengeRequest{
		Identity: account.Email,
		Purpose:  core.PurposePasswordReset,
		Role:     role,
		Name:     account.Name,
	})
}

// VerifyPasswordReset checks the reset code and grants a single password change
func (s *AuthService) VerifyPasswordReset(ctx context.Context, email, code string) error {
	if err := s.VerifyChallenge(ctx, email, core.PurposePasswordReset, code); err != nil {
		return err
	}
	if err := s.store.SetWithTTL(ctx, resetGrantKey(email), resetGranted, s.policy.ResetGrantTTL); err != nil {
		return fmt.Errorf("failed to grant password reset: %w", err)
	}
	return nil
}

// ResetPassword spends the reset grant and stores the new password
func (s *AuthService) ResetPassword(ctx context.Context, role, email, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", core.ErrValidation)
	}

	if _, err := s.store.Get(ctx, resetGrantKey(email)); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return core.ErrResetNotAuthorized
		}
		return fmt.Errorf("failed to check reset grant: %w", err)
	}

	account, err := s.identities.Lookup(ctx, role, email)
	if err != nil {
		return err
	}

	err = s.hasher.Compare(account.PasswordHash, newPassword)
	if err == nil {
		return core.ErrSamePassword
	}
	if !errors.Is(err, core.ErrInvalidCredentials) {
		return err
	}

	res, err := s.store.Consume(ctx, ports.ConsumeRequest{Key: resetGrantKey(email), Value: resetGranted})
	if err != nil {
		return fmt.Errorf("failed to consume reset grant: %w", err)
	}
	if res != ports.ConsumeMatched {
		return core.ErrResetNotAuthorized
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.identities.UpdatePassword(ctx, role, account.Email, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.Info("password reset", zap.String("account_id", account.ID))
	s.publish(ctx, core.Event{
		Type:      core.EventPasswordReset,
		Identity:  account.Email,
		SubjectID: account.ID,
	})
	return nil
}

// RequestVerification sends a generic verification code to identity
func (s *AuthService) RequestVerification(ctx context.Context, identity, name string) (core.Challenge, error) {
	if identity == "" {
		return core.Challenge{}, fmt.Errorf("%w: identity is required", core.ErrValidation)
	}
	return s.RequestChallenge(ctx, core.ChallengeRequest{
		Identity: identity,
		Purpose:  core.PurposeReverification,
		Name:     name,
	})
}

// ConfirmVerification checks a code sent by RequestVerification
func (s *AuthService) ConfirmVerification(ctx context.Context, identity, code string) error {
	return s.VerifyChallenge(ctx, identity, core.PurposeReverification, code)
}

// Login checks the password and issues a token pair.
// Unknown accounts and wrong passwords are both reported as invalid credentials.
func (s *AuthService) Login(ctx context.Context, role, email, password string) (core.TokenPair, *core.Account, error) {
	account, err := s.identities.Lookup(ctx, role, email)
	if errors.Is(err, core.ErrIdentityNotFound) {
		return core.TokenPair{}, nil, core.ErrInvalidCredentials
	}
	if err != nil {
		return core.TokenPair{}, nil, err
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		s.logger.Info("login rejected", zap.String("account_id", account.ID))
		return core.TokenPair{}, nil, err
	}

	pair, err := s.IssueSession(ctx, account.ID, account.Role)
	if err != nil {
		return core.TokenPair{}, nil, err
	}
	return pair, account, nil
}

// Refresh returns a new access token minted from a refresh token issued for role
func (s *AuthService) Refresh(ctx context.Context, refreshToken, role string) (string, core.Claims, error) {
	return s.RefreshSession(ctx, refreshToken, role)
}

// CurrentAccount loads the account an access token was issued for
func (s *AuthService) CurrentAccount(ctx context.Context, claims core.Claims) (*core.Account, error) {
	return s.identities.LookupByID(ctx, claims.Role, claims.SubjectID)
}

// ValidateAccessToken verifies an access token and returns its claims
func (s *AuthService) ValidateAccessToken(accessToken string) (core.Claims, error) {
	return s.tokens.ValidateAccessToken(accessToken)
}

func (s *AuthService) ensureAbsent(ctx context.Context, role, email string) error {
	exists, err := s.identities.Exists(ctx, role, email)
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists {
		return core.ErrIdentityExists
	}
	return nil
}

// publish never fails the calling operation
func (s *AuthService) publish(ctx context.Context, event core.Event) {
	event.OccurredAt = s.now()
	if err := s.eventPub.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func validateRegistration(reg core.Registration) error {
	var missing []string
	if !core.ValidRole(reg.Role) {
		missing = append(missing, "role")
	}
	if strings.TrimSpace(reg.Name) == "" {
		missing = append(missing, "name")
	}
	if !emailPattern.MatchString(reg.Email) {
		missing = append(missing, "email")
	}
	if reg.Password == "" {
		missing = append(missing, "password")
	}
	if reg.Role == core.RoleSeller {
		if reg.PhoneNumber == "" {
			missing = append(missing, "phoneNumber")
		}
		if reg.Country == "" {
			missing = append(missing, "country")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", core.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func templateFor(purpose core.Purpose, role string) string {
	if role == "" {
		role = core.RoleUser
	}
	switch purpose {
	case core.PurposeActivation:
		return role + "-activation-mail"
	case core.PurposePasswordReset:
		return "forgot-password-" + role + "-mail"
	default:
		return "verification-mail"
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, core.ErrAccountLocked):
		return "locked"
	case errors.Is(err, core.ErrChallengeExpired):
		return "expired"
	default:
		return "invalid"
	}
}
