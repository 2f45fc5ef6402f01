// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/cache"
	"github.com/jeranaias/agentchat/internal/transport"
)

const namespace = "agentchat"

// OutcomeOK labels successful requests.
const OutcomeOK = "ok"

// Metrics holds the client collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Registry prometheus.Gatherer

	// RequestsTotal counts calls by endpoint, method and outcome.
	// outcome: ok | transport | timeout | server | client | application | parse | canceled
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks call latency by endpoint.
	RequestDuration *prometheus.HistogramVec

	// RetriesTotal counts retry attempts by operation.
	RetriesTotal *prometheus.CounterVec

	// CacheEventsTotal counts response-cache events by key and event.
	// event: hit | miss | store | evict | invalidate
	CacheEventsTotal *prometheus.CounterVec

	// DegradedTotal counts calls answered with a fallback value by operation.
	DegradedTotal *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Total number of backend requests by endpoint, method and outcome.",
			},
			[]string{"endpoint", "method", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Duration of backend requests in seconds.",
				// 50ms → 100ms → … → 51.2s
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 11),
			},
			[]string{"endpoint"},
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "retries_total",
				Help:      "Total number of retry attempts by operation.",
			},
			[]string{"operation"},
		),
		CacheEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "events_total",
				Help:      "Response cache events by key and event type.",
			},
			[]string{"key", "event"},
		),
		DegradedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "degraded_total",
				Help:      "Calls answered with a fallback value instead of an error.",
			},
			[]string{"operation"},
		),
	}
}

// Outcome maps a request error to its outcome label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return apierr.KindOf(err).String()
}

// ObserveRequest implements transport.Observer.
func (m *Metrics) ObserveRequest(info transport.RequestInfo) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(info.Endpoint, info.Method, Outcome(info.Err)).Inc()
	m.RequestDuration.WithLabelValues(info.Endpoint).Observe(info.Duration.Seconds())
}

// ObserveRetry counts a retry of operation. Its signature matches the
// retry policy's OnRetry hook once the operation is bound.
func (m *Metrics) ObserveRetry(operation string) func(int, time.Duration, error) {
	return func(int, time.Duration, error) {
		if m == nil {
			return
		}
		m.RetriesTotal.WithLabelValues(operation).Inc()
	}
}

// ObserveCache is a cache.Observer.
func (m *Metrics) ObserveCache(ev cache.Event, key cache.Key) {
	if m == nil {
		return
	}
	m.CacheEventsTotal.WithLabelValues(key.String(), string(ev)).Inc()
}

// ObserveDegraded counts a fallback answer for operation.
func (m *Metrics) ObserveDegraded(operation string) {
	if m == nil {
		return
	}
	m.DegradedTotal.WithLabelValues(operation).Inc()
}
