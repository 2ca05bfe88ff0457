// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hi", 2, "hi"},
		{"hello", 3, "hel"},
		{"", 5, ""},
		{"test", 0, ""},
	}

	for _, tc := range tests {
		got := TruncateRunes(tc.input, tc.maxLen)
		if got != tc.want {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
		}
	}
}

func TestHeadRunes(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"日本語のテスト", 3, "日本語..."},
		{"", 5, ""},
		{"x", 0, ""},
	}

	for _, tc := range tests {
		got := HeadRunes(tc.input, tc.maxLen)
		if got != tc.want {
			t.Errorf("HeadRunes(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
		}
	}
}

func TestCollapseSpace(t *testing.T) {
	got := CollapseSpace("a\r\nb\nc")
	if got != "a b c" {
		t.Errorf("CollapseSpace = %q, want %q", got, "a b c")
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "snapshot.json")

	if err := AtomicWriteFile(path, []byte(`{"ok":true}`), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("content = %q", data)
	}

	// Overwrite must replace, not append
	if err := AtomicWriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile overwrite failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "v2" {
		t.Errorf("content after overwrite = %q", data)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %q", e.Name())
		}
	}
}
