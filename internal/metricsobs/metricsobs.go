// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package metricsobs is the proxy's minimal Prometheus instrumentation:
// request counts, token counts, and latency, registered against a
// dedicated registry rather than the global default so tests can spin
// up isolated instances.
package metricsobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records request and token metrics for one chat completion.
type Recorder interface {
	RecordRequest(model string, status string, duration time.Duration)
	RecordTokens(model string, tokenType string, count float64)
}

// Metrics is the concrete Recorder, backed by a dedicated registry.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	tokensTotal    *prometheus.CounterVec
}

// New creates a Metrics instance and registers its collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedrock_openai_proxy_requests_total",
			Help: "Total number of chat completion requests processed, by model and status.",
		}, []string{"model", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bedrock_openai_proxy_request_duration_seconds",
			Help:    "Chat completion request duration in seconds, by model and status.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"model", "status"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bedrock_openai_proxy_tokens_total",
			Help: "Total number of tokens processed, by model and type (input/output).",
		}, []string{"model", "type"}),
	}

	registry.MustRegister(m.requestsTotal, m.requestLatency, m.tokensTotal)
	return m
}

// Registry returns the registry backing m, for mounting a /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRequest implements Recorder.
func (m *Metrics) RecordRequest(model, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(model, status).Inc()
	m.requestLatency.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordTokens implements Recorder.
func (m *Metrics) RecordTokens(model, tokenType string, count float64) {
	if count <= 0 {
		return
	}
	m.tokensTotal.WithLabelValues(model, tokenType).Add(count)
}
