package core

import "time"

// Purpose names the use case an OTP challenge was issued for
type Purpose string

const (
	PurposeActivation     Purpose = "activation"
	PurposePasswordReset  Purpose = "password-reset"
	PurposeReverification Purpose = "reverification"
)

const (
	RoleUser   = "user"
	RoleSeller = "seller"
)

// ValidRole reports whether role is one of the account roles
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleSeller
}

// Challenge describes an issued OTP. The code itself only travels through the notifier.
type Challenge struct {
	Identity  string    // Email (or other unique key) the code was sent to
	Purpose   Purpose   // Use case the code was requested for
	IssuedAt  time.Time // When the code was stored
	ExpiresAt time.Time // When the stored code stops being accepted
}

// ChallengeRequest is the input for issuing a new OTP
type ChallengeRequest struct {
	Identity string
	Purpose  Purpose
	Role     string
	Name     string // Recipient display name used by mail templates
}

// TokenType distinguishes access from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "session:access"
	TokenTypeRefresh TokenType = "session:refresh"
)

// Claims is the claim set carried by both token kinds
type Claims struct {
	ID        string    // Unique token identifier (jti)
	SubjectID string    // Account identifier
	Role      string    // Single authorization claim
	Type      TokenType // Token kind, encoded as the audience
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is issued on successful authentication
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Account is the persisted identity record owned by the identity store
type Account struct {
	ID           string
	Role         string
	Email        string
	Name         string
	PasswordHash string
	PhoneNumber  string
	Country      string
	CreatedAt    time.Time
}

// Registration carries the profile fields submitted during sign-up
type Registration struct {
	Role        string
	Name        string
	Email       string
	Password    string
	PhoneNumber string
	Country     string
}
