package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/learnlyhq/learnly-backend/internal/webhooks/stripe"
	"github.com/learnlyhq/learnly-backend/pkg/types"
)

const testSigningSecret = "whsec_test"

func TestStripeWebhookProcessesThenDeduplicates(t *testing.T) {
	payload, sig := signedCheckoutEvent(t)
	svc := &recordingService{}
	handler := newStripeHandler(t, svc)

	if rec := deliver(handler, payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: status %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := deliver(handler, payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("duplicate delivery: status %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("service handled %d events, want 1", svc.calls)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	payload, _ := signedCheckoutEvent(t)
	svc := &recordingService{}
	handler := newStripeHandler(t, svc)

	rec := deliver(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("forged signature: status %d, want 400", rec.Code)
	}
	assertErrorCode(t, rec, "INVALID_SIGNATURE")
	if svc.calls != 0 {
		t.Fatal("service ran on a forged signature")
	}
}

func TestStripeWebhookRejectsMissingSignature(t *testing.T) {
	payload, _ := signedCheckoutEvent(t)
	handler := newStripeHandler(t, &recordingService{})

	rec := deliver(handler, payload, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing signature: status %d, want 400", rec.Code)
	}
	assertErrorCode(t, rec, "INVALID_SIGNATURE")
}

func TestStripeWebhookUnmarksFailedEvents(t *testing.T) {
	payload, sig := signedCheckoutEvent(t)
	svc := &recordingService{failures: 1}
	handler := newStripeHandler(t, svc)

	if rec := deliver(handler, payload, sig); rec.Code == http.StatusOK {
		t.Fatal("failed handler still answered 200")
	}

	// Stripe redelivers after a non-2xx; the retry must reach the handler
	// instead of the duplicate path.
	if rec := deliver(handler, payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("redelivery: status %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.calls != 2 {
		t.Fatalf("service handled %d events, want 2", svc.calls)
	}
}

func TestStripeWebhookCapsBodySize(t *testing.T) {
	svc := &recordingService{}
	handler := newStripeHandler(t, svc)

	oversized := bytes.Repeat([]byte("a"), maxPayloadBytes+1)
	rec := deliver(handler, oversized, "t=1,v1=whatever")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body: status %d, want 400", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatal("service ran on an oversized body")
	}
}

func newStripeHandler(t *testing.T, svc StripeWebhookService) http.HandlerFunc {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(&guardStore{data: map[string]string{}}, time.Minute, "stripe:checkout")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return StripeWebhook(svc, staticSecret(testSigningSecret), guard, nil, nil)
}

func deliver(handler http.HandlerFunc, payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// signedCheckoutEvent fabricates a checkout.session.completed event and a
// valid v1 signature over its payload.
func signedCheckoutEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	session := &stripe.CheckoutSession{
		ID:          "cs_" + uuid.NewString(),
		AmountTotal: 39920,
		Metadata: map[string]string{
			"enrollment_id": uuid.NewString(),
			"course_id":     uuid.NewString(),
		},
	}
	rawSession, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeCheckoutSessionCompleted,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Created:    time.Now().Unix(),
		Data:       &stripe.EventData{Raw: rawSession},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload, signPayload(payload, testSigningSecret, time.Now().Unix())
}

func signPayload(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != want {
		t.Fatalf("error code %q, want %q", envelope.Error.Code, want)
	}
}

// recordingService counts deliveries and can fail the first N of them.
type recordingService struct {
	calls    int
	failures int
}

func (s *recordingService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("transient handler failure")
	}
	return nil
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

// guardStore is a map-backed stand-in for the redis idempotency store.
type guardStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *guardStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *guardStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.data[key]; held {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *guardStore) IdempotencyKey(scope, id string) string {
	return "ll:idempotency:" + scope + ":" + id
}

func (s *guardStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
