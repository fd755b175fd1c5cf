// Package metrics registers the Prometheus collectors the workers and the
// webhook surface export. Constructors tolerate a nil registerer so tests
// and one-off tools can pass metrics through without wiring Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, labels)
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
