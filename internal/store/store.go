// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/gekichat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// SessionError represents a session-store error. It supports errors.Is
// comparison by message.
type SessionError struct {
	Message string
}

func (e *SessionError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = &SessionError{Message: "session not found"}

	// ErrMessageNotFound is returned when a message id is unknown within
	// its session.
	ErrMessageNotFound = &SessionError{Message: "message not found"}
)

// =============================================================================
// STORE
// =============================================================================

// Store is the in-memory session collection. All access is serialized by
// one mutex; methods hand out deep clones so callers never share mutable
// state with the store.
type Store struct {
	mu sync.Mutex

	// sessions in insertion order, newest first. Visible ordering (pinned
	// bucket first, each bucket by UpdatedAt descending) is computed on List.
	sessions []*model.Session

	// currentID is the id of the current session, or "" for none.
	currentID string

	// identity namespaces the durable snapshot. Empty means no identity is
	// active and mutations stay in memory only.
	identity string

	baseDir string
	logger  *slog.Logger
}

// New creates a session store persisting snapshots under baseDir.
func New(baseDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make([]*model.Session, 0),
		baseDir:  baseDir,
		logger:   logger,
	}
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Create generates a fresh empty session, inserts it at the head of the
// visible ordering and marks it current. Returns a clone.
func (s *Store) Create() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := model.NewSession()
	s.sessions = append([]*model.Session{sess}, s.sessions...)
	s.currentID = sess.ID
	s.persistLocked()

	return sess.Clone()
}

// Delete removes a session. If it was current, the most recent remaining
// session in the visible ordering becomes current, or none remain.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrSessionNotFound
	}

	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)

	if s.currentID == id {
		s.currentID = ""
		if ordered := s.orderedLocked(); len(ordered) > 0 {
			s.currentID = ordered[0].ID
		}
	}

	s.persistLocked()
	return nil
}

// SetPinned toggles the sort bucket for a session. Pin state affects
// ordering only; UpdatedAt is not refreshed.
func (s *Store) SetPinned(id string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(id)
	if sess == nil {
		return ErrSessionNotFound
	}

	sess.Pinned = pinned
	s.persistLocked()
	return nil
}

// SetCurrent switches the current session.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(id) == nil {
		return ErrSessionNotFound
	}
	s.currentID = id
	return nil
}

// Current returns a clone of the current session, or false if none exists.
func (s *Store) Current() (*model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(s.currentID)
	if sess == nil {
		return nil, false
	}
	return sess.Clone(), true
}

// CurrentID returns the current session id, or "" for none.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Get returns a clone of the session with the given id.
func (s *Store) Get(id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(id)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// List returns clones of all sessions in visible order: pinned sessions
// first, then unpinned, each bucket by UpdatedAt descending.
func (s *Store) List() []*model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.orderedLocked()
	out := make([]*model.Session, len(ordered))
	for i, sess := range ordered {
		out[i] = sess.Clone()
	}
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// =============================================================================
// MESSAGE MUTATION
// =============================================================================

// Append adds a message to the end of the session's message list and
// refreshes UpdatedAt. If the session has no title yet and the message is
// the first user message, the title is derived from its content.
func (s *Store) Append(id string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(id)
	if sess == nil {
		return ErrSessionNotFound
	}

	if sess.IsEmpty() && msg.Role == model.RoleUser {
		sess.SetTitleOnce(msg.Content)
	}
	sess.Append(msg)
	s.persistLocked()
	return nil
}

// ReplaceMessageContent rewrites a message's content in place. This is the
// single mutation used for the streaming placeholder; no other field
// changes and UpdatedAt is not refreshed.
func (s *Store) ReplaceMessageContent(sessionID, messageID, newContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}

	msg := sess.MessageByID(messageID)
	if msg == nil {
		return ErrMessageNotFound
	}

	msg.Content = newContent
	s.persistLocked()
	return nil
}

// NextTurn allocates the next turn id for a session.
func (s *Store) NextTurn(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(id)
	if sess == nil {
		return 0, ErrSessionNotFound
	}

	sess.LastTurn++
	return sess.LastTurn, nil
}

// Touch refreshes a session's UpdatedAt without appending.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(id)
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.UpdatedAt = time.Now()
	s.persistLocked()
	return nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Store) findLocked(id string) *model.Session {
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	return s.sessions[idx]
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

// orderedLocked computes the visible ordering: pinned bucket first, each
// bucket independently sorted by UpdatedAt descending.
func (s *Store) orderedLocked() []*model.Session {
	ordered := make([]*model.Session, len(s.sessions))
	copy(ordered, s.sessions)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Pinned != ordered[j].Pinned {
			return ordered[i].Pinned
		}
		return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
	})
	return ordered
}
