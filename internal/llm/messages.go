// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// SearchIntentInstruction is the system instruction for the structured
// classification call.
const SearchIntentInstruction = `You decide whether answering the user's message requires a live web search.
Respond with ONLY a JSON object of the form {"query": string, "searchRequired": boolean}.
Set "query" to the best search engine query, or "" when no search is needed. Do not add any other text.`

// PrepareMessages returns the message list an adapter should send: the
// persona prompt is prepended when the history has no system message, and
// a trailing placeholder or empty user turn is dropped.
func PrepareMessages(req ChatRequest) []model.Message {
	msgs := make([]model.Message, 0, len(req.History)+1)

	hasSystem := false
	for _, m := range req.History {
		if m.Role == model.RoleSystem {
			hasSystem = true
			break
		}
	}
	if !hasSystem && req.Persona != nil && strings.TrimSpace(req.Persona.SystemPrompt) != "" {
		msgs = append(msgs, model.NewSystemMessage(req.Persona.SystemPrompt))
	}
	msgs = append(msgs, req.History...)

	for len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.IsPlaceholder() || (last.Role == model.RoleAssistant && last.Content == "") {
			msgs = msgs[:len(msgs)-1]
			continue
		}
		if last.Role == model.RoleUser && last.IsEmpty() {
			msgs = msgs[:len(msgs)-1]
			continue
		}
		break
	}
	return msgs
}

// SimpleMessages builds the two-message list used by non-streamed calls.
func SimpleMessages(text, systemPrompt string) []model.Message {
	var msgs []model.Message
	if systemPrompt != "" {
		msgs = append(msgs, model.NewSystemMessage(systemPrompt))
	}
	return append(msgs, model.NewUserMessage(text))
}

// ParseSearchIntent parses a classification reply. Markdown code fences and
// surrounding prose are tolerated. Anything else yields the zero value and
// ok=false.
func ParseSearchIntent(raw string) (SearchIntent, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return SearchIntent{}, false
	}

	var intent SearchIntent
	if err := json.Unmarshal([]byte(s[start:end+1]), &intent); err != nil {
		return SearchIntent{}, false
	}
	intent.Query = strings.TrimSpace(intent.Query)
	return intent, true
}
