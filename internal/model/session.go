// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/gekichat/internal/util"
)

// TitleMaxRunes is the number of runes kept when deriving a session title
// from the first user message. Longer text gets an ellipsis marker appended.
const TitleMaxRunes = 35

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session holds one chat conversation: its identity, derived title, pin
// state and ordered message sequence. UpdatedAt changes on every append.
type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Pinned    bool       `json:"pinned"`

	// LastTurn is the highest turn id handed out for this session. Turn ids
	// start at 1; 0 means no turn has run yet.
	LastTurn int `json:"last_turn"`
}

// NewSession creates an empty session with a generated ID.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        generateSessionID(),
		Messages:  make([]*Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// Append adds a message to the end of the session and refreshes UpdatedAt.
func (s *Session) Append(msg *Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// MessageByID returns the message with the given ID, or nil.
func (s *Session) MessageByID(id string) *Message {
	for _, msg := range s.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// LastMessage returns the most recent message, or nil if empty.
func (s *Session) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// HistoryBefore returns every message with a turn id strictly less than
// turnID, in append order. This is the outbound history baseline for that
// turn: the turn's own user message and placeholder are excluded without
// relying on their position at the end of the slice.
func (s *Session) HistoryBefore(turnID int) []*Message {
	history := make([]*Message, 0, len(s.Messages))
	for _, msg := range s.Messages {
		if msg.TurnID < turnID {
			history = append(history, msg)
		}
	}
	return history
}

// IsEmpty returns true if there are no messages.
func (s *Session) IsEmpty() bool {
	return len(s.Messages) == 0
}

// MessageCount returns the number of messages.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// =============================================================================
// TITLE
// =============================================================================

// TitleFromText derives a session title from user text: the first
// TitleMaxRunes runes with an ellipsis marker if anything was cut.
func TitleFromText(text string) string {
	text = util.CollapseSpace(strings.TrimSpace(text))
	return util.HeadRunes(text, TitleMaxRunes)
}

// SetTitleOnce assigns the title derived from text if no title is set yet.
// Titles are immutable after first assignment.
func (s *Session) SetTitleOnce(text string) {
	if s.Title != "" {
		return
	}
	s.Title = TitleFromText(text)
}

// DisplayTitle returns the title or a default for untitled sessions.
func (s *Session) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return "New conversation"
}

// Preview returns a short one-line preview from the first user message.
func (s *Session) Preview(maxRunes int) string {
	for _, msg := range s.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return msg.Preview(maxRunes)
		}
	}
	return ""
}

// =============================================================================
// COPYING
// =============================================================================

// Clone creates a deep copy of the session. The store hands out clones so
// callers can read without holding its lock.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Messages = make([]*Message, len(s.Messages))
	for i, msg := range s.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return &clone
}

// generateSessionID creates a unique session ID.
func generateSessionID() string {
	return "sess_" + uuid.NewString()
}
