package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

func resolveRequestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

// RequestID honors an inbound X-Request-Id, minting one when absent, and
// reflects it on the response so callers can quote it when reporting issues.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := resolveRequestID(r)
			w.Header().Set(requestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
