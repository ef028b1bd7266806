// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exposes Prometheus metrics for adapters, the enrichment
// pipeline and turns.
//
// Every method on *Metrics is nil-safe so components can run without a
// registry in tests.
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.New(reg)
//	m.ObserveRequest("ollama", "chat", telemetry.OutcomeOK)
//	http.Handle("/metrics", telemetry.Handler(reg))
//
// # Privacy
//
// Metrics carry labels only; message content is never recorded.
package telemetry
