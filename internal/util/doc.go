// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for gekichat: atomic file
// writes used by the persistence layer, and rune-aware string truncation
// used for session titles and previews.
package util
