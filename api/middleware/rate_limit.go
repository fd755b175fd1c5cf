package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/learnlyhq/learnly-backend/api/responses"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RateLimitPolicy defines the throttling parameters for a traffic surface.
// A zero window or all-zero limits disables the policy entirely.
type RateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

// NewRateLimitPolicy builds a policy with the supplied window and limits.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:       strings.ToLower(strings.TrimSpace(name)),
		window:     window,
		ipLimit:    ipLimit,
		emailLimit: emailLimit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.emailLimit > 0)
}

func (p RateLimitPolicy) label() string {
	if p.name == "" {
		return "default"
	}
	return p.name
}

// RateLimit throttles a route group on two dimensions: the caller's IP
// and, when the JSON body carries an email field, a hash of that email.
// The body read is restored so downstream handlers see it untouched.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	lim := &limiter{policy: policy, store: store, logg: logg}
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if lim.blocked(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiter struct {
	policy RateLimitPolicy
	store  rateLimiterStore
	logg   *logger.Logger
}

// counter is one throttled dimension of a request.
type counter struct {
	dimension string
	subject   string
	limit     int
}

func (l *limiter) blocked(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()

	if l.policy.ipLimit > 0 {
		if ip := clientIP(r); ip != "" {
			if l.enforce(ctx, w, counter{dimension: "ip", subject: ip, limit: l.policy.ipLimit}) {
				return true
			}
		}
	}

	if l.policy.emailLimit > 0 {
		hash, ok := l.emailHash(ctx, w, r)
		if !ok {
			return true
		}
		if hash != "" {
			if l.enforce(ctx, w, counter{dimension: "email", subject: hash, limit: l.policy.emailLimit}) {
				return true
			}
		}
	}

	return false
}

// enforce bumps the counter and writes the 429 when it overflows.
// Reports true when the request must not continue.
func (l *limiter) enforce(ctx context.Context, w http.ResponseWriter, c counter) bool {
	scope := fmt.Sprintf("%s:%s:%s", c.dimension, l.policy.label(), c.subject)
	count, err := l.store.IncrWithTTL(ctx, l.store.RateLimitKey(scope), l.policy.window)
	if err != nil {
		responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
		return true
	}
	if count <= int64(c.limit) {
		return false
	}

	l.logBlock(ctx, c, count)
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
	return true
}

// emailHash reads the body to find an email to throttle on, then puts
// the bytes back for the handler. The empty hash means no email field.
func (l *limiter) emailHash(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
		return "", false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var fields struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", true
	}
	email := strings.ToLower(strings.TrimSpace(fields.Email))
	if email == "" {
		return "", true
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:]), true
}

func (l *limiter) logBlock(ctx context.Context, c counter, count int64) {
	if l.logg == nil {
		return
	}
	fields := map[string]any{
		"scope":          c.dimension,
		"policy":         l.policy.label(),
		"attempts":       count,
		"limit":          c.limit,
		"window_seconds": int(l.policy.window.Seconds()),
	}
	switch c.dimension {
	case "ip":
		fields["ip"] = c.subject
	case "email":
		fields["email_hash"] = c.subject
	}
	l.logg.Warn(l.logg.WithFields(ctx, fields), "rate_limit.blocked")
}

// clientIP prefers proxy headers over the socket address so limits
// track real callers behind the load balancer.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
