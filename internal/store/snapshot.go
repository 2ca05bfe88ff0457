// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/gekichat/internal/model"
	"github.com/jeranaias/gekichat/internal/util"
)

// =============================================================================
// SNAPSHOT PERSISTENCE
// =============================================================================

// LoadForIdentity replaces the store contents with the snapshot persisted
// for the given identity key and makes that identity the persistence target
// for future mutations.
//
// A missing snapshot yields an empty session list. So does a corrupt one:
// recovery is local and silent apart from a log line, never a fatal error.
func (s *Store) LoadForIdentity(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identity = identity
	s.sessions = make([]*model.Session, 0)
	s.currentID = ""

	data, err := os.ReadFile(s.snapshotPathLocked())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("snapshot unreadable, starting empty",
				"identity", identity, "error", err)
		}
		return nil
	}

	var sessions []*model.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn("snapshot corrupt, starting empty",
			"identity", identity, "error", err)
		return nil
	}

	for _, sess := range sessions {
		if sess == nil || sess.ID == "" {
			continue
		}
		if sess.Messages == nil {
			sess.Messages = make([]*model.Message, 0)
		}
		s.sessions = append(s.sessions, sess)
	}

	if ordered := s.orderedLocked(); len(ordered) > 0 {
		s.currentID = ordered[0].ID
	}
	return nil
}

// Persist writes the full snapshot for the active identity now. Mutating
// operations already persist on every state change; this exists for
// explicit flush points such as shutdown.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSnapshotLocked()
}

// Reset drops all sessions and removes the identity's snapshot. Used when
// the identity signs out or its account data is cleared.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make([]*model.Session, 0)
	s.currentID = ""

	if s.identity == "" {
		return nil
	}
	if err := os.Remove(s.snapshotPathLocked()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// persistLocked is called by every mutating operation. Write failures are
// logged, not propagated: the in-memory state is already updated and the
// next mutation retries the snapshot.
func (s *Store) persistLocked() {
	if err := s.writeSnapshotLocked(); err != nil {
		s.logger.Error("snapshot write failed", "identity", s.identity, "error", err)
	}
}

func (s *Store) writeSnapshotLocked() error {
	if s.identity == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.snapshotPathLocked(), data, 0644)
}

// snapshotPathLocked maps the opaque identity key onto a snapshot file.
func (s *Store) snapshotPathLocked() string {
	return filepath.Join(s.baseDir, "chat_sessions_"+sanitizeIdentity(s.identity)+".json")
}

// sanitizeIdentity makes an opaque identity key filesystem-safe without
// assuming anything about its format.
func sanitizeIdentity(identity string) string {
	var sb strings.Builder
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('~')
		}
	}
	if sb.Len() == 0 {
		return "anonymous"
	}
	return sb.String()
}
