package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintCallerToken issues a signed JWT for the payload. The email is
// lowercased before it becomes both the email claim and the subject.
func MintCallerToken(cfg config.JWTConfig, now time.Time, payload CallerTokenPayload) (string, error) {
	email := strings.TrimSpace(strings.ToLower(payload.Email))
	switch {
	case cfg.Secret == "":
		return "", fmt.Errorf("jwt secret is empty")
	case cfg.Issuer == "":
		return "", fmt.Errorf("jwt issuer is empty")
	case cfg.ExpirationMinutes <= 0:
		return "", fmt.Errorf("jwt ttl must be positive")
	case email == "":
		return "", fmt.Errorf("caller email is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwtSigningMethod, CallerClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	})
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// ParseCallerToken validates the JWT string and returns typed claims.
func ParseCallerToken(cfg config.JWTConfig, tokenString string) (*CallerClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is empty")
	}

	claims := &CallerClaims{}
	keyFunc := func(token *jwt.Token) (any, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("signing method %v not allowed", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}
	if _, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		keyFunc,
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	); err != nil {
		return nil, err
	}
	return claims, nil
}
