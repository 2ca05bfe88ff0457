// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store owns the in-memory session collection and its durable
// per-identity snapshot.
//
// The store is the sole mutator of session state. Every mutating operation
// is keyed by session id (and message id where relevant), so concurrent
// turns in different sessions cannot corrupt each other, and every mutation
// triggers a snapshot write: a crash mid-stream loses at most the
// in-progress delta.
//
// Persistence is a single JSON array of sessions per identity key,
// last-write-wins at snapshot granularity. A corrupt snapshot is recovered
// by falling back to an empty session list; load never fails fatally.
package store
