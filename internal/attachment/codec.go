// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment converts raw media input (file bytes, clipboard blobs)
// into normalized attachment records for outbound messages.
//
// The codec accepts the image, PDF and plain-text MIME categories and
// rejects everything else with a user-facing error naming the offending
// file. Encoding either yields a complete attachment or fails; no partial
// state is ever produced.
package attachment

import (
	"encoding/base64"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/gekichat/internal/model"
)

// DefaultMaxBytes caps attachment payloads at 20 MiB before encoding.
const DefaultMaxBytes = 20 << 20

// =============================================================================
// ERRORS
// =============================================================================

// UnsupportedMediaTypeError reports a rejected MIME category. The message is
// user-facing and names the file so the user can pick another one.
type UnsupportedMediaTypeError struct {
	FileName string
	MimeType string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return "file " + quoteName(e.FileName) + " is not supported: send an image, PDF or plain-text file"
}

// Is matches any UnsupportedMediaTypeError regardless of file name, so
// callers can check errors.Is(err, ErrUnsupportedMediaType).
func (e *UnsupportedMediaTypeError) Is(target error) bool {
	_, ok := target.(*UnsupportedMediaTypeError)
	return ok
}

// ErrUnsupportedMediaType is the sentinel for errors.Is checks.
var ErrUnsupportedMediaType = &UnsupportedMediaTypeError{}

// TooLargeError reports an attachment over the size limit.
type TooLargeError struct {
	FileName string
	Size     int64
	Limit    int64
}

func (e *TooLargeError) Error() string {
	return "file " + quoteName(e.FileName) + " is too large to attach"
}

// Is matches any TooLargeError.
func (e *TooLargeError) Is(target error) bool {
	_, ok := target.(*TooLargeError)
	return ok
}

// ErrTooLarge is the sentinel for errors.Is checks.
var ErrTooLarge = &TooLargeError{}

func quoteName(name string) string {
	if name == "" {
		return `"attachment"`
	}
	return `"` + name + `"`
}

// =============================================================================
// CODEC
// =============================================================================

// Codec validates and encodes raw media into model.Attachment records.
type Codec struct {
	// MaxBytes is the raw payload size limit (default DefaultMaxBytes).
	MaxBytes int64
}

// NewCodec creates a codec with default limits.
func NewCodec() *Codec {
	return &Codec{MaxBytes: DefaultMaxBytes}
}

// Encode validates the declared MIME type and size, then produces an
// immutable attachment with a base64 payload. On rejection no attachment
// exists anywhere; the caller's state is untouched.
func (c *Codec) Encode(fileName, mimeType string, data []byte) (*model.Attachment, error) {
	kind, ok := classify(mimeType)
	if !ok {
		return nil, &UnsupportedMediaTypeError{FileName: fileName, MimeType: mimeType}
	}

	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if int64(len(data)) > limit {
		return nil, &TooLargeError{FileName: fileName, Size: int64(len(data)), Limit: limit}
	}

	return &model.Attachment{
		Kind:     kind,
		MimeType: normalizeMime(mimeType),
		FileName: fileName,
		Content:  base64.StdEncoding.EncodeToString(data),
	}, nil
}

// EncodeFile reads a file from disk and encodes it. The MIME type comes
// from the extension, falling back to content sniffing for unknown ones.
func (c *Codec) EncodeFile(path string) (*model.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return c.Encode(name, mimeType, data)
}

// classify maps a MIME type onto the attachment variant. Category checks
// happen here once; downstream code branches on the kind tag only.
func classify(mimeType string) (model.AttachmentKind, bool) {
	mt := normalizeMime(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return model.AttachmentImage, true
	case mt == "application/pdf":
		return model.AttachmentDocument, true
	case strings.HasPrefix(mt, "text/"):
		return model.AttachmentText, true
	}
	return "", false
}

// normalizeMime strips parameters ("text/plain; charset=utf-8") and
// lowercases the type.
func normalizeMime(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}
