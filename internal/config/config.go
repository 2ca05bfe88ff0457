// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/gekichat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete gekichat configuration.
type Config struct {
	Version string `toml:"version"`

	// Provider configuration for the streaming backend.
	Provider ProviderConfig `toml:"provider"`

	// Chat behavior configuration.
	Chat ChatConfig `toml:"chat"`

	// Storage configuration for snapshots and the turn archive.
	Storage StorageConfig `toml:"storage"`
}

// ProviderConfig contains streaming backend configuration.
type ProviderConfig struct {
	// BaseURL is the URL of the streaming backend.
	BaseURL string `toml:"base_url"`
	// APIKey authenticates against the backend. Empty means no auth.
	APIKey string `toml:"api_key"`
	// SystemPrompt is prepended to every outbound request.
	SystemPrompt string `toml:"system_prompt"`
	// Temperature, TopP, TopK are generation options.
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
	TopK        int     `toml:"top_k"`
	// RequestsPerMinute throttles outbound requests (0 = unlimited).
	RequestsPerMinute int `toml:"requests_per_minute"`
	// ConnectTimeoutSecs bounds request setup.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs"`
}

// ChatConfig contains conversation behavior configuration.
type ChatConfig struct {
	// DefaultModel is the model id used for sends.
	DefaultModel string `toml:"default_model"`
	// Models is the selectable model catalog.
	Models []string `toml:"models"`
	// StallTimeoutSecs aborts a stream that produces no delta within the
	// bound (0 disables).
	StallTimeoutSecs int `toml:"stall_timeout_secs"`
	// AttachmentMaxBytes caps encoded attachment size.
	AttachmentMaxBytes int64 `toml:"attachment_max_bytes"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// DataDir holds session snapshots and the archive database
	// (empty = ~/.gekichat).
	DataDir string `toml:"data_dir"`
	// ArchiveEnabled records settled turns into a SQLite archive.
	ArchiveEnabled bool `toml:"archive_enabled"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Provider: ProviderConfig{
			BaseURL:            "http://127.0.0.1:8085",
			SystemPrompt:       "You are a helpful, concise assistant.",
			Temperature:        0.6,
			TopP:               0.9,
			TopK:               40,
			ConnectTimeoutSecs: 30,
		},
		Chat: ChatConfig{
			DefaultModel:       "flash",
			Models:             []string{"flash", "pro"},
			StallTimeoutSecs:   90,
			AttachmentMaxBytes: 20 << 20,
		},
		Storage: StorageConfig{
			ArchiveEnabled: true,
		},
	}
}

// ConfigDir returns the gekichat configuration directory (~/.gekichat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".gekichat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load loads configuration from the default location, falling back to
// defaults when no file exists. Environment overrides apply last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file, fills in
// missing values from defaults, applies environment overrides and
// validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	fillDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults replaces zero values that have no meaningful zero semantics.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if cfg.Provider.ConnectTimeoutSecs == 0 {
		cfg.Provider.ConnectTimeoutSecs = def.Provider.ConnectTimeoutSecs
	}
	if cfg.Chat.DefaultModel == "" {
		cfg.Chat.DefaultModel = def.Chat.DefaultModel
	}
	if len(cfg.Chat.Models) == 0 {
		cfg.Chat.Models = def.Chat.Models
	}
	if cfg.Chat.AttachmentMaxBytes == 0 {
		cfg.Chat.AttachmentMaxBytes = def.Chat.AttachmentMaxBytes
	}
}

// applyEnvOverrides applies GEKICHAT_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEKICHAT_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("GEKICHAT_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("GEKICHAT_MODEL"); v != "" {
		cfg.Chat.DefaultModel = v
	}
	if v := os.Getenv("GEKICHAT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
}

// DataDir resolves the storage directory, defaulting to the config
// directory.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	return ConfigDir()
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return ValidationError{Field: "provider.base_url", Message: "must be an http(s) URL"}
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return ValidationError{Field: "provider.temperature", Message: "must be between 0 and 2"}
	}
	if c.Provider.TopP < 0 || c.Provider.TopP > 1 {
		return ValidationError{Field: "provider.top_p", Message: "must be between 0 and 1"}
	}
	if c.Provider.TopK < 0 {
		return ValidationError{Field: "provider.top_k", Message: "must not be negative"}
	}
	if c.Provider.RequestsPerMinute < 0 {
		return ValidationError{Field: "provider.requests_per_minute", Message: "must not be negative"}
	}
	if c.Chat.StallTimeoutSecs < 0 {
		return ValidationError{Field: "chat.stall_timeout_secs", Message: "must not be negative"}
	}
	if c.Chat.AttachmentMaxBytes < 0 {
		return ValidationError{Field: "chat.attachment_max_bytes", Message: "must not be negative"}
	}
	if c.Chat.DefaultModel != "" && len(c.Chat.Models) > 0 {
		found := false
		for _, m := range c.Chat.Models {
			if m == c.Chat.DefaultModel {
				found = true
				break
			}
		}
		if !found {
			return ValidationError{Field: "chat.default_model", Message: "not present in chat.models"}
		}
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the default TOML file atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to a specific TOML file atomically.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# gekichat configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
