// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs user turns end to end.
//
// Send assembles the turn, then a per-turn goroutine runs the enrichment
// pipeline, opens the backend stream and hands it to the dispatcher. Each
// turn owns its own context and dispatch.Gate; Interrupt closes the gate,
// cancels the context and stops speech in one action. At most one turn is
// in flight at a time.
package orchestrator
