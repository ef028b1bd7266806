// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the uniform backend adapter contract and the plumbing
// shared by every adapter family.
//
// # Key Types
//
//   - Adapter: the contract each backend family implements
//   - Stream: a lazy, single-consumption sequence of text deltas
//   - Decoder: one explicit per-backend record decoder returning delta-or-absent
//   - RecordReader: NDJSON (LineReader) and event-stream (SSEReader) framing
//   - ModelCache: TTL cache for model discovery with an injectable Clock
//   - Transport: HTTP helpers with credential placement and status mapping
//   - Error: the error taxonomy (transport, decode, enrichment, classification, title)
//
// # Streams
//
// A Stream yields only non-empty deltas. Recv returns io.EOF when the backend
// completes and also when the request context is canceled, so cancellation
// ends a stream silently. Any other read failure is a transport error.
// Malformed records are logged, counted and skipped.
package llm
