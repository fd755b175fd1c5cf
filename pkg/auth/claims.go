package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// CallerTokenPayload captures the data available when minting a storefront JWT.
type CallerTokenPayload struct {
	Email string
	JTI   string
}

// CallerClaims represents the typed JWT presented by storefront callers.
type CallerClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
