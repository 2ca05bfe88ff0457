// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// SCRIPTED STREAMER
// =============================================================================

// Scripted is an in-memory Streamer that replays a fixed sequence of deltas.
// It exists so orchestration logic can be exercised without a network. The
// zero value streams nothing and succeeds.
type Scripted struct {
	mu sync.Mutex

	// Deltas replayed in order on each Stream call.
	Deltas []string

	// FailAfter, when >= 0, aborts the stream with Err after that many
	// deltas have been emitted. Negative means never fail.
	FailAfter int

	// Err returned when FailAfter triggers. Defaults to a connection error.
	Err error

	// Delay inserted before each delta, for cancellation and stall tests.
	Delay time.Duration

	// Requests records every request Stream received.
	Requests []Request
}

// NewScripted returns a streamer replaying the given deltas to completion.
func NewScripted(deltas ...string) *Scripted {
	return &Scripted{Deltas: deltas, FailAfter: -1}
}

// NewScriptedFailure returns a streamer that emits failAfter deltas and then
// fails with err.
func NewScriptedFailure(failAfter int, err error, deltas ...string) *Scripted {
	return &Scripted{Deltas: deltas, FailAfter: failAfter, Err: err}
}

// Stream implements Streamer.
func (s *Scripted) Stream(ctx context.Context, req Request, emit DeltaFunc) error {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	deltas := s.Deltas
	failAfter := s.FailAfter
	failErr := s.Err
	delay := s.Delay
	s.mu.Unlock()

	if failErr == nil {
		failErr = &ProviderError{Type: ErrTypeConnection, Message: "scripted failure"}
	}

	for i, delta := range deltas {
		if failAfter >= 0 && i >= failAfter {
			return failErr
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return &ProviderError{Type: ErrTypeTimeout, Message: "stream aborted", Cause: ctx.Err()}
			case <-time.After(delay):
			}
		} else {
			select {
			case <-ctx.Done():
				return &ProviderError{Type: ErrTypeTimeout, Message: "stream aborted", Cause: ctx.Err()}
			default:
			}
		}
		if err := emit(delta); err != nil {
			return err
		}
	}

	if failAfter >= 0 && failAfter >= len(deltas) {
		return failErr
	}
	return nil
}

// RequestCount reports how many Stream calls were made.
func (s *Scripted) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// LastRequest returns the most recent request, or a zero Request when none
// were made.
func (s *Scripted) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return Request{}
	}
	return s.Requests[len(s.Requests)-1]
}
