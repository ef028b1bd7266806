// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Stream is a lazy, finite, single-consumption sequence of text deltas.
type Stream interface {
	// Recv blocks for the next non-empty delta. It returns io.EOF when the
	// backend completes or the request context is canceled.
	Recv() (string, error)

	// Close releases the underlying connection. It is safe to call more
	// than once.
	Close() error
}

// ChatRequest is the input to a streamed chat call.
type ChatRequest struct {
	History []model.Message
	Model   model.Model
	Persona *model.Persona
}

// SearchIntent is the fixed shape returned by the structured
// classification call.
type SearchIntent struct {
	Query          string `json:"query"`
	SearchRequired bool   `json:"searchRequired"`
}

// Adapter is implemented once per backend family.
type Adapter interface {
	// Family reports the wire protocol this adapter speaks.
	Family() model.Family

	// SendMessage starts a streamed reply. Canceling ctx aborts the
	// transport and ends the stream silently.
	SendMessage(ctx context.Context, req ChatRequest) (Stream, error)

	// SendSimpleMessage returns one non-streamed reply.
	SendSimpleMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (string, error)

	// SendJSONMessage returns one reply parsed as a SearchIntent. A reply
	// that is not valid JSON yields the zero SearchIntent and a nil error.
	SendJSONMessage(ctx context.Context, text string, m model.Model, systemPrompt string) (SearchIntent, error)

	// EmbedText returns one vector per input. Backends without embedding
	// support return an empty list and a nil error.
	EmbedText(ctx context.Context, texts []string) ([][]float64, error)

	// AvailableModels lists model identifiers served by the backend.
	AvailableModels(ctx context.Context) ([]string, error)
}
