package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/learnlyhq/learnly-backend/api/responses"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	pkgredis "github.com/learnlyhq/learnly-backend/pkg/redis"
)

// criticalIdempotencyTTL covers the money endpoints; a storefront retrying a
// checkout days later should still replay the original outcome.
const criticalIdempotencyTTL = 7 * 24 * time.Hour

// storedReply is the persisted outcome of a guarded request.
type storedReply struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response when a guarded route sees the same
// Idempotency-Key again, and rejects key reuse with a different body.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := routeTTL(r.Method, routePattern(r))
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if key == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := fingerprint(body)
			storeKey := store.IdempotencyKey(callerScope(r), key)

			prior, err := store.Get(r.Context(), storeKey)
			if err != nil && !errors.Is(err, redis.Nil) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if prior != "" {
				var reply storedReply
				if err := json.Unmarshal([]byte(prior), &reply); err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				if reply.RequestHash != hash {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				writeReplay(w, reply)
				return
			}

			recorder := &replyRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)

			reply := storedReply{
				Status:      recorder.statusOrOK(),
				Body:        base64.StdEncoding.EncodeToString(recorder.body.Bytes()),
				RequestHash: hash,
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "" {
				reply.Headers = map[string]string{"Content-Type": ct}
			}

			raw, err := json.Marshal(reply)
			if err != nil {
				if logg != nil {
					logg.Error(r.Context(), "marshal idempotency record", err)
				}
				return
			}
			if _, err := store.SetNX(r.Context(), storeKey, string(raw), ttl); err != nil && logg != nil {
				logg.Error(r.Context(), "persist idempotency record", err)
			}
		})
	}
}

// routeTTL reports whether method+pattern is a guarded route and which record
// TTL applies. Only the money endpoints are guarded.
func routeTTL(method, pattern string) (time.Duration, bool) {
	if method != http.MethodPost {
		return 0, false
	}
	switch {
	case pattern == "/api/v1/checkout":
		return criticalIdempotencyTTL, true
	case strings.HasPrefix(pattern, "/api/v1/checkout/") && strings.HasSuffix(pattern, "/cancel"):
		return criticalIdempotencyTTL, true
	}
	return 0, false
}

// callerScope keys records per caller so two users cannot collide on a
// client-generated key.
func callerScope(r *http.Request) string {
	return CallerEmailFromContext(r.Context()) + "|" + r.Method + "|" + r.URL.Path
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func writeReplay(w http.ResponseWriter, reply storedReply) {
	if ct := reply.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(reply.Status)
	if decoded, err := base64.StdEncoding.DecodeString(reply.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

type replyRecorder struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *replyRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *replyRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *replyRecorder) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
