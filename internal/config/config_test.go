// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromPathFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1.0"

[provider]
base_url = "http://localhost:9999"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", cfg.Provider.BaseURL)
	// Unset fields pick up defaults.
	assert.Equal(t, "flash", cfg.Chat.DefaultModel)
	assert.Equal(t, int64(20<<20), cfg.Chat.AttachmentMaxBytes)
	assert.Equal(t, 30, cfg.Provider.ConnectTimeoutSecs)
}

func TestLoadFromPathMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o600))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEKICHAT_BASE_URL", "http://envhost:1234")
	t.Setenv("GEKICHAT_MODEL", "pro")
	t.Setenv("GEKICHAT_DATA_DIR", "/tmp/gekichat-data")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`version = "1.0"`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://envhost:1234", cfg.Provider.BaseURL)
	assert.Equal(t, "pro", cfg.Chat.DefaultModel)
	assert.Equal(t, "/tmp/gekichat-data", cfg.Storage.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad url scheme", func(c *Config) { c.Provider.BaseURL = "ftp://x" }, true},
		{"temperature too high", func(c *Config) { c.Provider.Temperature = 3 }, true},
		{"negative top_k", func(c *Config) { c.Provider.TopK = -1 }, true},
		{"top_p above one", func(c *Config) { c.Provider.TopP = 1.5 }, true},
		{"negative stall timeout", func(c *Config) { c.Chat.StallTimeoutSecs = -5 }, true},
		{"default model not in catalog", func(c *Config) { c.Chat.DefaultModel = "nope" }, true},
		{"custom model in catalog", func(c *Config) {
			c.Chat.Models = []string{"local-small"}
			c.Chat.DefaultModel = "local-small"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Provider.BaseURL = "http://saved:8085"
	cfg.Chat.DefaultModel = "pro"
	require.NoError(t, SaveToPath(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "http://saved:8085", loaded.Provider.BaseURL)
	assert.Equal(t, "pro", loaded.Chat.DefaultModel)
	assert.Equal(t, cfg.Provider.Temperature, loaded.Provider.Temperature)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveToPath(Default(), path))

	var mu sync.Mutex
	var got *Config
	w, err := Watch(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	updated := Default()
	updated.Chat.DefaultModel = "pro"
	require.NoError(t, SaveToPath(updated, path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Chat.DefaultModel == "pro"
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherSkipsInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, SaveToPath(Default(), path))

	var mu sync.Mutex
	calls := 0
	w, err := Watch(path, func(cfg *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("broken ["), 0o600))
	time.Sleep(2 * debounceDelay)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}
