// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("ollama", "chat", OutcomeOK)
	m.ObserveRequest("ollama", "chat", OutcomeOK)
	m.DecodeError("ollama")
	m.EnrichmentFailure("url_extraction")
	m.TurnFinished(OutcomeCanceled)
	m.FirstDelta("ollama", 120*time.Millisecond)

	if got := testutil.ToFloat64(m.adapterRequests.WithLabelValues("ollama", "chat", OutcomeOK)); got != 2 {
		t.Errorf("adapter requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.decodeErrors.WithLabelValues("ollama")); got != 1 {
		t.Errorf("decode errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.enrichmentFailures.WithLabelValues("url_extraction")); got != 1 {
		t.Errorf("enrichment failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.turns.WithLabelValues(OutcomeCanceled)); got != 1 {
		t.Errorf("turns = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("x", "y", OutcomeOK)
	m.DecodeError("x")
	m.EnrichmentFailure("x")
	m.TurnFinished(OutcomeOK)
	m.FirstDelta("x", time.Second)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.TurnFinished(OutcomeOK)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "rigchat_turns_total") {
		t.Errorf("metrics output missing rigchat_turns_total:\n%s", rec.Body.String())
	}
}

func TestOutcome(t *testing.T) {
	if got := Outcome(nil, false); got != OutcomeOK {
		t.Errorf("Outcome(nil,false) = %q", got)
	}
	if got := Outcome(errors.New("x"), false); got != OutcomeError {
		t.Errorf("Outcome(err,false) = %q", got)
	}
	if got := Outcome(errors.New("x"), true); got != OutcomeCanceled {
		t.Errorf("Outcome(err,true) = %q", got)
	}
}
