// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRecordAndRecent(t *testing.T) {
	a := newArchive(t)

	require.NoError(t, a.RecordTurn("sess_a", 1, "hello", "hi there", "flash", false))
	require.NoError(t, a.RecordTurn("sess_a", 2, "how are you", "fine", "flash", false))
	require.NoError(t, a.RecordTurn("sess_b", 1, "other chat", "sure", "pro", false))

	entries, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first.
	assert.Equal(t, "other chat", entries[0].UserText)
	assert.Equal(t, "how are you", entries[1].UserText)
	assert.Equal(t, "pro", entries[0].ModelID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestRecordTurnRetryOverwrites(t *testing.T) {
	a := newArchive(t)

	require.NoError(t, a.RecordTurn("sess_a", 1, "question", "partial", "flash", true))
	require.NoError(t, a.RecordTurn("sess_a", 1, "question", "full answer", "flash", false))

	entries, err := a.BySession("sess_a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "full answer", entries[0].ReplyText)
	assert.False(t, entries[0].Failed)
}

func TestSearch(t *testing.T) {
	a := newArchive(t)

	require.NoError(t, a.RecordTurn("sess_a", 1, "recipe for bread", "use flour and yeast", "flash", false))
	require.NoError(t, a.RecordTurn("sess_a", 2, "weather tomorrow", "rain expected", "flash", false))

	t.Run("matches user text", func(t *testing.T) {
		entries, err := a.Search("bread", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 1, entries[0].TurnID)
	})

	t.Run("matches reply text", func(t *testing.T) {
		entries, err := a.Search("rain", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 2, entries[0].TurnID)
	})

	t.Run("no match", func(t *testing.T) {
		entries, err := a.Search("kubernetes", 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("empty query", func(t *testing.T) {
		entries, err := a.Search("   ", 10)
		require.NoError(t, err)
		assert.Nil(t, entries)
	})

	t.Run("wildcards treated literally", func(t *testing.T) {
		entries, err := a.Search("100%", 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestBySessionOrder(t *testing.T) {
	a := newArchive(t)

	require.NoError(t, a.RecordTurn("sess_a", 2, "second", "b", "flash", false))
	require.NoError(t, a.RecordTurn("sess_a", 1, "first", "a", "flash", false))

	entries, err := a.BySession("sess_a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].UserText)
	assert.Equal(t, "second", entries[1].UserText)
}

func TestCount(t *testing.T) {
	a := newArchive(t)

	n, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, a.RecordTurn("sess_a", 1, "q", "r", "flash", false))
	n, err = a.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "archive.db")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.RecordTurn("sess_a", 1, "q", "r", "flash", false))
}
