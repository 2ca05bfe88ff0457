// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"

	"github.com/jeranaias/gekichat/internal/model"
)

// =============================================================================
// STREAMER BOUNDARY
// =============================================================================

// Request describes one completion request: the confirmed history, the new
// user text, the target model and an optional attachment. History carries
// abstract roles; implementations translate them to whatever their backend
// expects.
type Request struct {
	History    []*model.Message
	NewText    string
	ModelID    string
	Attachment *model.Attachment
}

// DeltaFunc receives one text delta. Returning an error stops the stream;
// the error is propagated out of Stream unchanged.
type DeltaFunc func(delta string) error

// Streamer produces a finite, non-restartable sequence of text deltas for
// a request. Deltas are emitted strictly in arrival order. Stream returns
// nil on normal end of stream, the emit callback's error if it aborted, or
// a *ProviderError if the backend rejected the request or the transport
// broke mid-stream.
type Streamer interface {
	Stream(ctx context.Context, req Request, emit DeltaFunc) error
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes provider errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeBadModel
	ErrTypeQuota
	ErrTypeStream
	ErrTypeInvalidResponse
)

// ProviderError represents an error from the completion backend or the
// transport to it. The message is for logs; user-facing failure text is
// owned by the turn orchestrator.
type ProviderError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for easy checking.
var (
	ErrTimeout  = &ProviderError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrBadModel = &ProviderError{Type: ErrTypeBadModel, Message: "model not available"}
	ErrQuota    = &ProviderError{Type: ErrTypeQuota, Message: "quota exhausted"}
)

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type == ErrTypeTimeout
	}
	return false
}

// IsBadModel checks if an error indicates an unknown or rejected model id.
func IsBadModel(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type == ErrTypeBadModel
	}
	return false
}
