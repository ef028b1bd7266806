// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title a thread carries until one is generated.
const DefaultTitle = "New Chat Thread"

// MetaDocumentIDs is the metadata key holding comma-separated document ids
// attached to a thread.
const MetaDocumentIDs = "document_ids"

// ErrNoPlaceholder is returned when a delta is applied to a thread whose
// last message is not an in-flight assistant placeholder.
var ErrNoPlaceholder = errors.New("thread has no assistant placeholder")

// =============================================================================
// THREAD TYPE
// =============================================================================

// Thread holds a conversation's ordered messages plus its active model,
// persona and free-form metadata.
//
// A thread has a single writer while a turn is in flight; callers that hand
// a thread to other goroutines pass a Clone.
type Thread struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Messages  []Message         `json:"messages"`
	Model     Model             `json:"model"`
	PersonaID string            `json:"persona_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewThread creates an empty thread bound to a model and default persona.
func NewThread(m Model, personaID string) *Thread {
	now := time.Now()
	return &Thread{
		ID:        "thr_" + uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  make([]Message, 0),
		Model:     m,
		PersonaID: personaID,
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the thread.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = slices.Clone(t.Messages)
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}

// Append adds messages to the end of the thread.
func (t *Thread) Append(msgs ...Message) {
	t.Messages = append(t.Messages, msgs...)
	t.UpdatedAt = time.Now()
}

// Last returns the final message and whether one exists.
func (t *Thread) Last() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// HasPlaceholder reports whether the thread ends with an in-flight
// assistant placeholder.
func (t *Thread) HasPlaceholder() bool {
	last, ok := t.Last()
	return ok && last.IsPlaceholder()
}

// SetPlaceholderContent overwrites the content of the trailing placeholder.
func (t *Thread) SetPlaceholderContent(content string) error {
	if !t.HasPlaceholder() {
		return ErrNoPlaceholder
	}
	t.Messages[len(t.Messages)-1].Content = content
	t.UpdatedAt = time.Now()
	return nil
}

// FinishPlaceholder clears the streaming flag on the trailing placeholder.
func (t *Thread) FinishPlaceholder() {
	if t.HasPlaceholder() {
		t.Messages[len(t.Messages)-1].IsStreaming = false
		t.UpdatedAt = time.Now()
	}
}

// RemovePlaceholder drops a trailing placeholder that never received
// content.
func (t *Thread) RemovePlaceholder() {
	if t.HasPlaceholder() && t.Messages[len(t.Messages)-1].Content == "" {
		t.Messages = t.Messages[:len(t.Messages)-1]
		t.UpdatedAt = time.Now()
	}
}

// DropEmptyReplies removes assistant messages without content, such as a
// placeholder saved before the process exited mid-turn. It reports how many
// were removed.
func (t *Thread) DropEmptyReplies() int {
	kept := t.Messages[:0]
	for _, m := range t.Messages {
		if m.Role == RoleAssistant && m.Content == "" {
			continue
		}
		kept = append(kept, m)
	}
	n := len(t.Messages) - len(kept)
	t.Messages = kept
	return n
}

// FirstUserMessage returns the earliest user message.
func (t *Thread) FirstUserMessage() (Message, bool) {
	for _, m := range t.Messages {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return Message{}, false
}

// ConversationLen counts user and assistant messages.
func (t *Thread) ConversationLen() int {
	n := 0
	for _, m := range t.Messages {
		if m.Role != RoleSystem {
			n++
		}
	}
	return n
}

// DocumentIDs returns the document ids attached through thread metadata.
func (t *Thread) DocumentIDs() []string {
	raw := t.Metadata[MetaDocumentIDs]
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// AttachDocuments records document ids in thread metadata, keeping any
// already attached.
func (t *Thread) AttachDocuments(ids ...string) {
	merged := t.DocumentIDs()
	for _, id := range ids {
		if id != "" && !slices.Contains(merged, id) {
			merged = append(merged, id)
		}
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[MetaDocumentIDs] = strings.Join(merged, ",")
}
