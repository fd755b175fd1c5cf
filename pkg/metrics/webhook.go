package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics records inbound payment-event outcomes.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	m := &WebhookMetrics{
		received:   counterVec("webhook_events_received", "Inbound webhook events accepted for processing.", "event_type"),
		duplicates: counterVec("webhook_events_duplicate", "Inbound webhook events skipped as already processed.", "event_type"),
		failures:   counterVec("webhook_events_failed", "Inbound webhook events that failed processing.", "event_type"),
	}
	reg.MustRegister(m.received, m.duplicates, m.failures)
	return m
}

// IncReceived increments the received counter for the event type.
func (w *WebhookMetrics) IncReceived(eventType string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDuplicate increments the duplicate counter for the event type.
func (w *WebhookMetrics) IncDuplicate(eventType string) {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailure increments the failure counter for the event type.
func (w *WebhookMetrics) IncFailure(eventType string) {
	if w == nil || w.failures == nil {
		return
	}
	w.failures.WithLabelValues(normalizeLabel(eventType)).Inc()
}
