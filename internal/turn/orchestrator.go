// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/gekichat/internal/model"
	"github.com/jeranaias/gekichat/internal/provider"
	"github.com/jeranaias/gekichat/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTurnInFlight signals a same-session send while one is already
	// running. The attempted send is a no-op.
	ErrTurnInFlight = errors.New("turn: generation already in flight for this session")

	// ErrNothingToSend signals a send with neither text nor attachment.
	ErrNothingToSend = errors.New("turn: nothing to send")
)

// FailureNotice is appended to whatever partial text a broken stream had
// already delivered. Failure is always an inline chat message, never a
// separate surface.
const FailureNotice = "Sorry, I couldn't complete this response because of a connection problem. Please try again."

// =============================================================================
// PHASES AND EVENTS
// =============================================================================

// Phase is where a turn currently is in its lifecycle.
type Phase int

const (
	PhaseSending Phase = iota
	PhaseStreaming
	PhaseSucceeded
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event describes a turn lifecycle change. Content carries the accumulated
// reply text so far; Err is set only for PhaseFailed.
type Event struct {
	SessionID string
	MessageID string
	TurnID    int
	Phase     Phase
	Content   string
	Err       error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds orchestrator tunables.
type Config struct {
	// ModelID sent with every request. Empty defers to the streamer's
	// default.
	ModelID string

	// StallTimeout aborts a stream that produces no delta within the bound.
	// Zero disables the watchdog.
	StallTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{StallTimeout: 90 * time.Second}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator coordinates turns between the session store and a streamer.
// It is safe for concurrent use.
type Orchestrator struct {
	mu       sync.Mutex
	store    *store.Store
	streamer provider.Streamer
	config   Config
	logger   *slog.Logger

	// inflight maps session id to the cancel for its running turn.
	inflight map[string]context.CancelFunc

	// pending is the staged attachment for the next send.
	pending *model.Attachment

	// notify, when set, receives lifecycle events. Called without the
	// orchestrator lock held.
	notify func(Event)
}

// New creates an orchestrator over the given store and streamer.
func New(st *store.Store, streamer provider.Streamer, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		streamer: streamer,
		config:   config,
		logger:   logger,
		inflight: make(map[string]context.CancelFunc),
	}
}

// SetNotify installs the event listener. A turn captures the listener at
// send time, so swapping it does not affect streams already running.
func (o *Orchestrator) SetNotify(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notify = fn
}

// SetModel changes the model id used for subsequent sends.
func (o *Orchestrator) SetModel(modelID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config.ModelID = modelID
}

// Model returns the model id used for sends.
func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config.ModelID
}

// =============================================================================
// ATTACHMENT STAGING
// =============================================================================

// Attach stages an attachment for the next send, replacing any previous one.
func (o *Orchestrator) Attach(att *model.Attachment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = att
}

// ClearAttachment drops the staged attachment.
func (o *Orchestrator) ClearAttachment() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = nil
}

// PendingAttachment returns the staged attachment, or nil.
func (o *Orchestrator) PendingAttachment() *model.Attachment {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// =============================================================================
// SEND PATH
// =============================================================================

// Turn is a handle on one in-flight send. Wait blocks until it settles.
type Turn struct {
	SessionID      string
	TurnID         int
	UserMessageID  string
	ReplyMessageID string

	done chan struct{}
	err  error
}

// Done returns a channel closed when the turn settles.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn settles and returns its outcome. Nil means the
// stream completed; otherwise the provider error that ended it.
func (t *Turn) Wait() error {
	<-t.done
	return t.err
}

// Send starts a turn against the current session with the given text and
// any staged attachment. If no session is current, one is created and made
// current before the user message is appended. The user message and an
// empty model placeholder are committed before any network work; streaming
// then proceeds in a background goroutine. The returned handle settles when
// the stream ends.
//
// A send while the target session already has a turn in flight returns
// ErrTurnInFlight and changes nothing. A send with empty text and no staged
// attachment returns ErrNothingToSend.
func (o *Orchestrator) Send(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	att := o.pending
	if text == "" && att == nil {
		o.mu.Unlock()
		return nil, ErrNothingToSend
	}

	sessID := o.store.CurrentID()
	if sessID == "" {
		sess := o.store.Create()
		sessID = sess.ID
	}

	if _, busy := o.inflight[sessID]; busy {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}

	turnCtx, cancel := context.WithCancel(ctx)
	o.inflight[sessID] = cancel
	modelID := o.config.ModelID
	stall := o.config.StallTimeout
	notify := o.notify
	o.mu.Unlock()

	turnID, err := o.store.NextTurn(sessID)
	if err != nil {
		o.release(sessID)
		cancel()
		return nil, err
	}

	userMsg := model.NewUserMessage(text, turnID)
	userMsg.Attachment = att
	if err := o.store.Append(sessID, userMsg); err != nil {
		o.release(sessID)
		cancel()
		return nil, err
	}

	placeholder := model.NewPlaceholder(turnID)
	if err := o.store.Append(sessID, placeholder); err != nil {
		o.release(sessID)
		cancel()
		return nil, err
	}

	// History baseline excludes this turn's own user message and
	// placeholder: everything with an earlier turn id.
	sess, err := o.store.Get(sessID)
	if err != nil {
		o.release(sessID)
		cancel()
		return nil, err
	}
	history := sess.HistoryBefore(turnID)

	t := &Turn{
		SessionID:      sessID,
		TurnID:         turnID,
		UserMessageID:  userMsg.ID,
		ReplyMessageID: placeholder.ID,
		done:           make(chan struct{}),
	}

	o.emit(notify, Event{SessionID: sessID, MessageID: placeholder.ID, TurnID: turnID, Phase: PhaseSending})

	req := provider.Request{
		History:    history,
		NewText:    text,
		ModelID:    modelID,
		Attachment: att,
	}

	go o.run(turnCtx, cancel, t, req, stall, notify)
	return t, nil
}

// run drives the stream for one turn and settles it.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, t *Turn, req provider.Request, stall time.Duration, notify func(Event)) {
	defer cancel()

	// Watchdog: a stream that stops producing deltas is cancelled rather
	// than held open forever.
	var watchdog *time.Timer
	if stall > 0 {
		watchdog = time.AfterFunc(stall, cancel)
		defer watchdog.Stop()
	}

	var acc strings.Builder
	streamErr := o.streamer.Stream(ctx, req, func(delta string) error {
		if watchdog != nil {
			watchdog.Reset(stall)
		}
		acc.WriteString(delta)
		content := acc.String()
		if err := o.store.ReplaceMessageContent(t.SessionID, t.ReplyMessageID, content); err != nil {
			return err
		}
		o.emit(notify, Event{SessionID: t.SessionID, MessageID: t.ReplyMessageID, TurnID: t.TurnID, Phase: PhaseStreaming, Content: content})
		return nil
	})

	// Release before the handle settles so a caller observing Wait sees the
	// session free again.
	o.release(t.SessionID)

	if streamErr != nil {
		o.settleFailed(t, acc.String(), streamErr, notify)
	} else {
		o.settleSucceeded(t, acc.String(), req.Attachment, notify)
	}

	t.err = streamErr
	close(t.done)
}

// settleSucceeded finalizes a completed turn. The last delta rewrite already
// committed the final content; only the staged attachment is consumed.
func (o *Orchestrator) settleSucceeded(t *Turn, content string, sent *model.Attachment, notify func(Event)) {
	o.mu.Lock()
	// Consume the staged attachment only if a restage hasn't replaced it.
	if o.pending == sent {
		o.pending = nil
	}
	o.mu.Unlock()

	o.logger.Debug("turn settled",
		slog.String("session", t.SessionID),
		slog.Int("turn", t.TurnID),
		slog.Int("chars", len(content)))

	o.emit(notify, Event{SessionID: t.SessionID, MessageID: t.ReplyMessageID, TurnID: t.TurnID, Phase: PhaseSucceeded, Content: content})
}

// settleFailed finalizes a broken turn. Partial text survives with the
// connectivity notice appended; the staged attachment is kept for retry.
func (o *Orchestrator) settleFailed(t *Turn, partial string, cause error, notify func(Event)) {
	content := FailureNotice
	if partial != "" {
		content = partial + "\n\n" + FailureNotice
	}
	if err := o.store.ReplaceMessageContent(t.SessionID, t.ReplyMessageID, content); err != nil {
		o.logger.Error("failed to record turn failure",
			slog.String("session", t.SessionID),
			slog.String("error", err.Error()))
	}

	o.logger.Warn("turn failed",
		slog.String("session", t.SessionID),
		slog.Int("turn", t.TurnID),
		slog.String("error", cause.Error()))

	o.emit(notify, Event{SessionID: t.SessionID, MessageID: t.ReplyMessageID, TurnID: t.TurnID, Phase: PhaseFailed, Content: content, Err: cause})
}

// =============================================================================
// IN-FLIGHT REGISTRY
// =============================================================================

// Cancel aborts the in-flight turn for the session, if any. The turn settles
// as failed through the normal path.
func (o *Orchestrator) Cancel(sessionID string) {
	o.mu.Lock()
	cancel := o.inflight[sessionID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// InFlight reports whether the session has a running turn.
func (o *Orchestrator) InFlight(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[sessionID]
	return ok
}

// Busy reports whether any session has a running turn.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight) > 0
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.inflight, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(notify func(Event), ev Event) {
	if notify != nil {
		notify(ev)
	}
}
