// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package voice bridges a speech capture capability to the turn send path.
//
// The capability yields one finalized transcript per capture, not an
// incremental stream. Finalization is "type and submit" fused into one
// action: the transcript becomes the compose text and is sent immediately.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/gekichat/internal/turn"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCaptureBusy signals a capture attempt while one is already running
	// or while a generation is in flight.
	ErrCaptureBusy = errors.New("voice: capture unavailable while busy")

	// ErrEmptyTranscript signals a capture that finalized with no speech.
	ErrEmptyTranscript = errors.New("voice: empty transcript")
)

// =============================================================================
// TRANSCRIBER CAPABILITY
// =============================================================================

// Transcriber is the speech capture capability. Capture blocks until the
// utterance finalizes and returns the whole transcript, or an error when
// capture fails or the context is cancelled.
type Transcriber interface {
	Capture(ctx context.Context) (string, error)
}

// TranscriberFunc adapts a function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context) (string, error)

// Capture implements Transcriber.
func (f TranscriberFunc) Capture(ctx context.Context) (string, error) {
	return f(ctx)
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge runs captures and feeds finalized transcripts into the
// orchestrator. Safe for concurrent use; at most one capture runs at a time.
type Bridge struct {
	mu           sync.Mutex
	transcriber  Transcriber
	orchestrator *turn.Orchestrator
	logger       *slog.Logger
	capturing    bool

	// onStart/onStop, when set, observe capture boundaries.
	onStart func()
	onStop  func()
}

// NewBridge creates a voice bridge over the given capability and
// orchestrator.
func NewBridge(transcriber Transcriber, orchestrator *turn.Orchestrator, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		transcriber:  transcriber,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// SetCallbacks installs start/stop observers. Must be called before the
// first capture.
func (b *Bridge) SetCallbacks(onStart, onStop func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStart = onStart
	b.onStop = onStop
}

// Capturing reports whether a capture is currently running.
func (b *Bridge) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capturing
}

// CaptureAndSend runs one capture and sends the finalized transcript through
// the orchestrator. It blocks until the transcript is captured and the send
// is started, returning the in-flight turn handle.
//
// Capture is rejected with ErrCaptureBusy while another capture runs or
// while any generation is in flight.
func (b *Bridge) CaptureAndSend(ctx context.Context) (*turn.Turn, error) {
	b.mu.Lock()
	if b.capturing || b.orchestrator.Busy() {
		b.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	b.capturing = true
	onStart := b.onStart
	onStop := b.onStop
	b.mu.Unlock()

	if onStart != nil {
		onStart()
	}
	defer func() {
		b.mu.Lock()
		b.capturing = false
		b.mu.Unlock()
		if onStop != nil {
			onStop()
		}
	}()

	transcript, err := b.transcriber.Capture(ctx)
	if err != nil {
		b.logger.Warn("voice capture failed", slog.String("error", err.Error()))
		return nil, err
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	b.logger.Debug("voice transcript finalized", slog.Int("chars", len(transcript)))
	return b.orchestrator.Send(ctx, transcript)
}
