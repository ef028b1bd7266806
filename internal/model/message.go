// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a thread.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	PersonaID string    `json:"persona_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// IsStreaming marks the assistant placeholder while a turn is in flight.
	// It is never persisted; a stored empty reply is dropped on load.
	IsStreaming bool `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        newMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewPlaceholder creates the empty assistant message that is filled in
// place while a reply streams in.
func NewPlaceholder(personaID string) Message {
	msg := NewMessage(RoleAssistant, "")
	msg.PersonaID = personaID
	msg.IsStreaming = true
	return msg
}

// IsEmpty reports whether the message has no visible content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// IsPlaceholder reports whether m is an in-flight assistant placeholder.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.IsStreaming
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}
