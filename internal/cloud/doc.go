// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the llm.Adapter contract for OpenAI and the
// vendors that speak the OpenAI chat completions protocol (Groq, Cerebras,
// Mistral, xAI).
//
// # Key Types
//
//   - Client: adapter for one configured provider
//   - Preset: per-vendor base URL and embedding support
//
// # Usage
//
//	client, err := cloud.New(provider, llm.Options{Logger: logger})
//	stream, err := client.SendMessage(ctx, llm.ChatRequest{History: msgs, Model: m})
//
// # Security
//
// API keys are sent as bearer tokens and are never logged.
package cloud
