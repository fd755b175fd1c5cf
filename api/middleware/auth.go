package middleware

import (
	"net/http"
	"strings"

	"github.com/learnlyhq/learnly-backend/api/responses"
	pkgAuth "github.com/learnlyhq/learnly-backend/pkg/auth"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

// RequireCaller validates the storefront bearer token and seeds the request
// context with the buyer email it was minted for.
func RequireCaller(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseCallerToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			email := strings.ToLower(strings.TrimSpace(claims.Email))
			if email == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing caller email"))
				return
			}

			ctx := WithCallerEmail(r.Context(), email)
			if logg != nil {
				ctx = logg.WithField(ctx, "caller_email", email)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken pulls the credential out of the Authorization header, with or
// without the Bearer prefix.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
