// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rigchat"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics groups the collectors registered for one process.
type Metrics struct {
	adapterRequests    *prometheus.CounterVec
	decodeErrors       *prometheus.CounterVec
	enrichmentFailures *prometheus.CounterVec
	turns              *prometheus.CounterVec
	firstDelta         *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		adapterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_requests_total",
			Help:      "Backend adapter calls by family, operation and outcome.",
		}, []string{"family", "op", "outcome"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_decode_errors_total",
			Help:      "Malformed stream records skipped, by family.",
		}, []string{"family"}),
		enrichmentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_failures_total",
			Help:      "Pipeline steps whose effect was discarded, by step.",
		}, []string{"step"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		firstDelta: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_delta_seconds",
			Help:      "Time from dispatch to the first non-empty delta.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"family"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.adapterRequests,
			m.decodeErrors,
			m.enrichmentFailures,
			m.turns,
			m.firstDelta,
		)
	}
	return m
}

// ObserveRequest counts one adapter call.
func (m *Metrics) ObserveRequest(family, op, outcome string) {
	if m == nil {
		return
	}
	m.adapterRequests.WithLabelValues(family, op, outcome).Inc()
}

// DecodeError counts one skipped stream record.
func (m *Metrics) DecodeError(family string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(family).Inc()
}

// EnrichmentFailure counts one discarded pipeline step.
func (m *Metrics) EnrichmentFailure(step string) {
	if m == nil {
		return
	}
	m.enrichmentFailures.WithLabelValues(step).Inc()
}

// TurnFinished counts one finished turn.
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// FirstDelta records time-to-first-delta for a family.
func (m *Metrics) FirstDelta(family string, d time.Duration) {
	if m == nil {
		return
	}
	m.firstDelta.WithLabelValues(family).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Outcome maps an error to an outcome label.
func Outcome(err error, canceled bool) string {
	switch {
	case canceled:
		return OutcomeCanceled
	case err != nil:
		return OutcomeError
	default:
		return OutcomeOK
	}
}
