// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider abstracts "send a request, receive a lazy sequence of
// text deltas" against a remote completion backend.
//
// The Streamer interface is the boundary the turn orchestrator sees: one
// finite, non-restartable stream per request, deltas delivered in order
// through a callback. The HTTP client implements it against a
// line-delimited JSON streaming endpoint; Scripted implements it in memory
// for tests and offline use. Both are explicit injectable collaborators
// constructed with their configuration, never process-wide singletons.
//
// The adapter owns the translation from the abstract role enum to wire
// roles and the splitting of attachments into separate MIME type and
// payload fields. A mid-stream failure surfaces as a ProviderError after
// whatever deltas already arrived were delivered; partial text is never
// rolled back here.
package provider
