// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/gekichat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleModel:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether the role is one of the known values. Unknown roles
// in a persisted snapshot are tolerated on load but never produced.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session.
//
// Messages are append-only; the model placeholder appended at send time is
// the only message whose Content is ever rewritten. TurnID links a message
// to the send cycle that produced it: outbound history for turn N is every
// message with TurnID < N.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	TurnID    int       `json:"turn_id"`

	// At most one attachment per outbound user message.
	Attachment *Attachment `json:"attachment,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string, turnID int) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		TurnID:    turnID,
	}
}

// NewUserMessage creates a user message for the given turn.
func NewUserMessage(content string, turnID int) *Message {
	return NewMessage(RoleUser, content, turnID)
}

// NewPlaceholder creates the empty model-role message appended before any
// network work begins. The UI keys its in-flight indicator on this ID.
func NewPlaceholder(turnID int) *Message {
	return NewMessage(RoleModel, "", turnID)
}

// IsPlaceholder reports whether the message is an unfilled model response.
func (m *Message) IsPlaceholder() bool {
	return m.Role == RoleModel && m.Content == ""
}

// Preview returns a single-line truncated preview of the message content.
func (m *Message) Preview(maxRunes int) string {
	return util.TruncateRunes(util.CollapseSpace(m.Content), maxRunes)
}

// Clone returns a copy of the message. The attachment is shared, not
// copied; attachments are immutable once constructed.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	return "msg_" + uuid.NewString()
}
