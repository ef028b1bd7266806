// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline enriches one outgoing turn through ordered, fail-soft
// steps.
//
// # Steps
//
//  1. template: persona prompt placeholder substitution
//  2. documents: stage text of persona and thread documents
//  3. urls: fetch URLs found in the user text, one warning per failure
//  4. relevance: chunk, embed and rank staged text; keep the best chunks
//  5. search: classify, then query the web and attach top results
//  6. bookkeeping: append user message and placeholder, persist the thread
//  7. first-turn: flag the thread's first exchange for title generation
//
// # Isolation
//
// TurnContext is a value. A step receives a copy and returns a new value;
// slices are extended with append on a clipped slice so a discarded step
// result never aliases the context the next step sees. A step that returns
// an error or panics is logged as an enrichment failure and its result is
// dropped.
package pipeline
