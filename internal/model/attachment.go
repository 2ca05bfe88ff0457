// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// AttachmentKind is the tagged variant an attachment belongs to. Behavior
// branches on the kind, never on MIME string prefixes at call sites.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentText     AttachmentKind = "text"
)

// Attachment is a normalized media payload attached to an outbound user
// message. Immutable once constructed by the attachment codec.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	MimeType string         `json:"mime_type"`
	FileName string         `json:"file_name"`

	// Content is the base64-encoded payload without a data-URL prefix.
	Content string `json:"content"`
}

// DataURL renders the attachment as a data URL for display layers that
// expect one.
func (a *Attachment) DataURL() string {
	return "data:" + a.MimeType + ";base64," + a.Content
}

// IsImage reports whether the attachment is in the image variant.
func (a *Attachment) IsImage() bool {
	return a.Kind == AttachmentImage
}

// SplitDataURL separates a data-URL-style string into its MIME type and raw
// base64 payload. Backends that want separate fields go through this; input
// without a data-URL prefix is returned as-is with the fallback MIME type.
func SplitDataURL(s, fallbackMime string) (mimeType, data string) {
	if !strings.HasPrefix(s, "data:") {
		return fallbackMime, s
	}
	rest := strings.TrimPrefix(s, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return fallbackMime, s
	}
	mimeType = strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = fallbackMime
	}
	return mimeType, payload
}
