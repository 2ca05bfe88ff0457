// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for gekichat.
//
// TOML format with sensible defaults, environment variable overrides
// (GEKICHAT_*), and validation. A file watcher re-loads the configuration
// when the file changes on disk so backend and model changes apply without a
// restart.
//
// Configuration file location (in order of precedence):
//   - ~/.gekichat/config.toml
//   - Built-in defaults
package config
