// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"slices"

	"github.com/jeranaias/rigrun-chat/internal/assembler"
	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Source tags where staged text came from.
type Source int

const (
	SourceDocument Source = iota
	SourceWeb
)

func (s Source) String() string {
	if s == SourceWeb {
		return "web"
	}
	return "document"
}

// Passage is text staged by an earlier step for relevance filtering.
type Passage struct {
	Source Source
	// Ref is a document title or page URL.
	Ref  string
	Text string
}

// TurnContext is the per-turn state threaded through the steps.
type TurnContext struct {
	TurnID string

	// UserText is the raw input; Query has mentions stripped.
	UserText string
	Query    string

	// Thread is the snapshot the turn started from. Bookkeeping replaces it
	// with a clone carrying the new messages.
	Thread *model.Thread

	Model    model.Model
	Adapter  llm.Adapter
	Persona  *model.Persona
	Mentions []assembler.Mention

	// SystemPrompt starts as the persona prompt.
	SystemPrompt string

	// History is the slice of prior conversation sent with this turn.
	History     []model.Message
	FullHistory []model.Message

	UserMessage model.Message
	Placeholder model.Message

	// Enrichment holds synthetic system messages in the order appended.
	Enrichment []model.Message

	Passages []Passage
	URLs     []string

	Intent llm.SearchIntent

	// Persisted is set once the user message and placeholder are in the
	// thread.
	Persisted     bool
	FirstExchange bool
}

// NewTurnContext builds the initial context from an assembled turn.
func NewTurnContext(turnID string, thread *model.Thread, adapter llm.Adapter, res assembler.Result) TurnContext {
	tc := TurnContext{
		TurnID:      turnID,
		UserText:    res.UserMessage.Content,
		Query:       res.Query,
		Thread:      thread,
		Model:       thread.Model,
		Adapter:     adapter,
		Persona:     res.Persona,
		Mentions:    res.Mentions,
		History:     res.Send,
		FullHistory: res.History,
		UserMessage: res.UserMessage,
		Placeholder: res.Placeholder,
	}
	if res.Persona != nil {
		tc.SystemPrompt = res.Persona.SystemPrompt
	}
	return tc
}

// Capabilities returns the active provider's capability flags.
func (tc TurnContext) Capabilities() model.Capability {
	return tc.Model.Provider.Capabilities
}

// WithEnrichment returns a copy with one more synthetic system message.
func (tc TurnContext) WithEnrichment(content string) TurnContext {
	tc.Enrichment = append(slices.Clip(tc.Enrichment), model.NewSystemMessage(content))
	return tc
}

// WithPassages returns a copy with more staged passages.
func (tc TurnContext) WithPassages(p ...Passage) TurnContext {
	tc.Passages = append(slices.Clip(tc.Passages), p...)
	return tc
}

// WithTurnAppended returns a copy whose thread is a clone ending in the
// user message and placeholder.
func (tc TurnContext) WithTurnAppended() TurnContext {
	if tc.Persisted {
		return tc
	}
	th := tc.Thread.Clone()
	th.Append(tc.UserMessage, tc.Placeholder)
	tc.Thread = th
	tc.Persisted = true
	return tc
}

// MessagesToSend returns system prompt, enrichment, history, the user
// message and the trailing placeholder.
func (tc TurnContext) MessagesToSend() []model.Message {
	msgs := make([]model.Message, 0, len(tc.Enrichment)+len(tc.History)+3)
	if tc.SystemPrompt != "" {
		msgs = append(msgs, model.NewSystemMessage(tc.SystemPrompt))
	}
	msgs = append(msgs, tc.Enrichment...)
	msgs = append(msgs, tc.History...)
	msgs = append(msgs, tc.UserMessage, tc.Placeholder)
	return msgs
}

// Outbound is MessagesToSend without the placeholder.
func (tc TurnContext) Outbound() []model.Message {
	msgs := tc.MessagesToSend()
	return msgs[:len(msgs)-1]
}
