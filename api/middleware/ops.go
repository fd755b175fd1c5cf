package middleware

import (
	"net/http"
	"strings"

	"github.com/learnlyhq/learnly-backend/api/responses"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/security"
)

const opsTokenHeader = "X-Ops-Token"

// RequireOpsToken guards the operator surface. Config carries only the
// Argon2id hash of the shared token, never the token itself.
func RequireOpsToken(cfg config.OpsConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.TokenHash == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "operator token not configured"))
				return
			}

			token := strings.TrimSpace(r.Header.Get(opsTokenHeader))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing operator token"))
				return
			}

			ok, err := security.VerifySecret(token, cfg.TokenHash)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify operator token"))
				return
			}
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator token mismatch"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
