// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads, messages, providers
// and personas.
//
// # Key Types
//
//   - Thread: a conversation's ordered messages plus its model, persona and metadata
//   - Message: one message with role, content and optional persona attribution
//   - Provider: a backend endpoint with credential, capability flags and family tag
//   - Model: a model identifier bound to its Provider
//   - Persona: a system prompt plus display identity
//   - Document, Page, SearchResult: enrichment inputs staged for a turn
//
// # Usage
//
//	thread := model.NewThread(m, "default")
//	thread.Append(model.NewUserMessage("Hello"))
//	thread.Append(model.NewPlaceholder("default"))
package model
