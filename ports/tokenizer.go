package ports

import "github.com/layer-3/otpgate/core"

// Tokenizer converts between claim sets and signed tokens
type Tokenizer interface {
	// Sign encodes claims with the secret belonging to claims.Type
	Sign(claims core.Claims) (string, error)

	// Parse verifies signature, expiry and kind, and returns the claims
	Parse(tokenType core.TokenType, token string) (core.Claims, error)
}
