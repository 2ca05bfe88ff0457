// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// =============================================================================
// STREAM READING
// =============================================================================

// streamChunk is one line of the backend's line-delimited JSON stream.
type streamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// StreamReader consumes a line-delimited JSON stream of chunks.
type StreamReader struct {
	scanner *bufio.Scanner
}

// NewStreamReader wraps a response body in a chunk reader. Lines can be
// large when the backend batches deltas, so the buffer is generous.
func NewStreamReader(r io.Reader) *StreamReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &StreamReader{scanner: scanner}
}

// Process reads chunks until done, EOF, or failure, forwarding each non-empty
// delta to emit in arrival order. Cancellation is checked between chunks so
// an abandoned stream stops promptly. If emit returns an error the stream is
// abandoned and that error propagated unchanged.
func (r *StreamReader) Process(ctx context.Context, emit DeltaFunc) error {
	for r.scanner.Scan() {
		select {
		case <-ctx.Done():
			return &ProviderError{Type: ErrTypeTimeout, Message: "stream aborted", Cause: ctx.Err()}
		default:
		}

		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return &ProviderError{Type: ErrTypeInvalidResponse, Message: "malformed stream chunk", Cause: err}
		}

		if chunk.Error != "" {
			return &ProviderError{Type: ErrTypeStream, Message: chunk.Error}
		}

		if chunk.Delta != "" {
			if err := emit(chunk.Delta); err != nil {
				return err
			}
		}

		if chunk.Done {
			return nil
		}
	}

	if err := r.scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return &ProviderError{Type: ErrTypeTimeout, Message: "stream aborted", Cause: ctx.Err()}
		}
		return &ProviderError{Type: ErrTypeStream, Message: "stream interrupted", Cause: err}
	}

	// EOF without a done marker: the backend hung up mid-answer.
	return &ProviderError{Type: ErrTypeStream, Message: "stream ended before completion"}
}
