package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with the role claim shared by access and refresh tokens
type SessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}
