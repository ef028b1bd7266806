// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assembler turns user text, the active thread and persona mentions
// into the outgoing message set for one turn.
package assembler

import (
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultMentionWindow caps the mention-scoped slice.
const DefaultMentionWindow = 6

// PersonaLookup resolves persona ids.
type PersonaLookup interface {
	Persona(id string) (model.Persona, bool)
	Personas() []model.Persona
}

// Result is the assembled turn.
type Result struct {
	// Persona used for this turn. Nil when neither a mention nor the
	// thread default resolves.
	Persona *model.Persona

	// Mentions resolved in the user text, in order.
	Mentions []Mention

	// Query is the user text with mentions removed.
	Query string

	UserMessage model.Message
	Placeholder model.Message

	// Send is the history sent with this turn: the full history, or the
	// mention-scoped slice.
	Send []model.Message

	// History is the full conversation before this turn.
	History []model.Message

	MentionScoped bool
}

// Assembler builds turn inputs.
type Assembler struct {
	personas PersonaLookup
	window   int
}

// New creates an assembler. window bounds the mention-scoped slice; zero
// uses DefaultMentionWindow.
func New(personas PersonaLookup, window int) *Assembler {
	if window <= 0 {
		window = DefaultMentionWindow
	}
	return &Assembler{personas: personas, window: window}
}

// Assemble builds the turn for text on thread. The thread is not modified.
func (a *Assembler) Assemble(text string, thread *model.Thread) Result {
	var all []model.Persona
	if a.personas != nil {
		all = a.personas.Personas()
	}
	mentions, query := NewParser(all).Parse(text)

	res := Result{
		Mentions:      mentions,
		Query:         query,
		UserMessage:   model.NewUserMessage(text),
		History:       conversation(thread),
		MentionScoped: len(mentions) > 0,
	}
	if res.Query == "" {
		res.Query = text
	}

	// First mention wins, else the thread default.
	personaID := thread.PersonaID
	if len(mentions) > 0 {
		personaID = mentions[0].PersonaID
	}
	if a.personas != nil && personaID != "" {
		if p, ok := a.personas.Persona(personaID); ok {
			res.Persona = &p
		}
	}

	res.Placeholder = model.NewPlaceholder(personaID)
	res.UserMessage.PersonaID = personaID

	if res.MentionScoped {
		res.Send = scoped(res.History, a.window)
	} else {
		res.Send = res.History
	}
	return res
}

// conversation returns the thread's user and assistant messages, skipping
// stale placeholders.
func conversation(t *model.Thread) []model.Message {
	out := make([]model.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Role == model.RoleSystem || (m.Role == model.RoleAssistant && m.IsEmpty()) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// scoped returns the most recent exchange: the last user message and every
// message after it, capped at window messages.
func scoped(history []model.Message, window int) []model.Message {
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			start = i
			break
		}
	}
	slice := history[start:]
	if len(slice) > window {
		slice = slice[len(slice)-window:]
	}
	return slice
}
