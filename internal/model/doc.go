// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions, messages
// and attachments.
//
// A Session is an ordered, append-only sequence of Messages plus metadata
// (title, pin state, update time). Messages are tagged with the turn that
// produced them so outbound history can be selected by turn boundary rather
// than by array position. The single exception to append-only is the model
// placeholder message, whose content is rewritten in place while a response
// streams in.
//
// The types here are plain data; ownership and mutation rules live in the
// store package.
package model
