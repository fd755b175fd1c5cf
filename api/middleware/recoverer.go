package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/learnlyhq/learnly-backend/api/responses"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

// Recoverer converts handler panics into logged 500 responses so one bad
// request cannot take the process down.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				handlePanic(r.Context(), logg, w, rec)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func handlePanic(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, rec any) {
	err := fmt.Errorf("panic: %v", rec)
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"panic": rec})
		logg.Error(ctx, "panic.recovered", err)
	}
	responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
}
