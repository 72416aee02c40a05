package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/otpgate/core"
)

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs.
// Access and refresh tokens are signed with different secrets.
type JWTTokenizer struct {
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer. A nil now defaults to time.Now.
func NewJWTTokenizer(accessSecret, refreshSecret []byte, now func() time.Time) (*JWTTokenizer, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("tokenizer: access and refresh secrets are required")
	}
	if string(accessSecret) == string(refreshSecret) {
		return nil, errors.New("tokenizer: access and refresh secrets must differ")
	}
	if now == nil {
		now = time.Now
	}
	return &JWTTokenizer{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		now:           now,
	}, nil
}

// Sign converts claims to a signed JWT
func (j *JWTTokenizer) Sign(claims core.Claims) (string, error) {
	secret, err := j.secretFor(claims.Type)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			ID:        claims.ID,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			Audience:  jwt.ClaimStrings{string(claims.Type)},
		},
		Role: claims.Role,
	})

	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}

	return signedToken, nil
}

// Parse verifies a JWT of the expected kind and returns its claims
func (j *JWTTokenizer) Parse(tokenType core.TokenType, tokenStr string) (core.Claims, error) {
	secret, err := j.secretFor(tokenType)
	if err != nil {
		return core.Claims{}, err
	}

	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithAudience(string(tokenType)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return core.Claims{}, classify(err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return core.Claims{}, core.ErrMalformedToken
	}

	// Reject only when an expected claim is missing
	if claims.Subject == "" || claims.Role == "" {
		return core.Claims{}, fmt.Errorf("%w: missing subject or role claim", core.ErrMalformedToken)
	}

	out := core.Claims{
		ID:        claims.ID,
		SubjectID: claims.Subject,
		Role:      claims.Role,
		Type:      tokenType,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

func (j *JWTTokenizer) secretFor(tokenType core.TokenType) ([]byte, error) {
	switch tokenType {
	case core.TokenTypeAccess:
		return j.accessSecret, nil
	case core.TokenTypeRefresh:
		return j.refreshSecret, nil
	}
	return nil, fmt.Errorf("unknown token type %q", tokenType)
}

// classify maps jwt validation errors onto the token failure taxonomy
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", core.ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", core.ErrSignatureMismatch, err)
	default:
		return fmt.Errorf("%w: %v", core.ErrMalformedToken, err)
	}
}
