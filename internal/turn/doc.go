// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn drives one send-and-receive cycle against the streaming
// backend.
//
// A turn moves through sending, streaming, and settled phases. The user
// message and an empty model placeholder are committed to the session store
// before any network work begins; streamed deltas then rewrite the
// placeholder in arrival order. On success the last rewrite is the final
// content and the staged attachment is cleared. On failure the partial text
// is kept, a connectivity notice is appended, and the staged attachment is
// retained so the user can retry.
//
// At most one turn may be in flight per session. Sends to distinct sessions
// proceed concurrently; a second send to the same session is rejected with
// ErrTurnInFlight and changes nothing.
package turn
