// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gekichat/internal/model"
	"github.com/jeranaias/gekichat/internal/provider"
	"github.com/jeranaias/gekichat/internal/store"
)

// streamerFunc adapts a function to the provider.Streamer interface.
type streamerFunc func(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error

func (f streamerFunc) Stream(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
	return f(ctx, req, emit)
}

func newOrchestrator(t *testing.T, streamer provider.Streamer) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.New(t.TempDir(), nil)
	return New(st, streamer, DefaultConfig(), nil), st
}

func TestSendStreamsIntoPlaceholder(t *testing.T) {
	scripted := provider.NewScripted("Hel", "lo ", "there")
	orch, st := newOrchestrator(t, scripted)

	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, model.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "hi", sess.Messages[0].Content)
	assert.Equal(t, model.RoleModel, sess.Messages[1].Role)
	assert.Equal(t, "Hello there", sess.Messages[1].Content)
	assert.Equal(t, tn.ReplyMessageID, sess.Messages[1].ID)
}

func TestSendCreatesSessionWhenNoneCurrent(t *testing.T) {
	orch, st := newOrchestrator(t, provider.NewScripted("ok"))
	require.Equal(t, "", st.CurrentID())

	tn, err := orch.Send(context.Background(), "first message")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())

	assert.Equal(t, tn.SessionID, st.CurrentID())
	assert.Equal(t, 1, st.Len())
}

func TestSendTitleFromFirstUserText(t *testing.T) {
	orch, st := newOrchestrator(t, provider.NewScripted("ok"))

	long := strings.Repeat("x", 71)
	tn, err := orch.Send(context.Background(), long)
	require.NoError(t, err)
	require.NoError(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 35)+"...", sess.Title)

	// A second turn leaves the title untouched.
	tn2, err := orch.Send(context.Background(), "another question entirely")
	require.NoError(t, err)
	require.NoError(t, tn2.Wait())
	sess, err = st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 35)+"...", sess.Title)
}

func TestSendPlaceholderCommittedBeforeNetwork(t *testing.T) {
	st := store.New(t.TempDir(), nil)
	var sawUser, sawPlaceholder bool
	streamer := streamerFunc(func(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
		sess, ok := st.Current()
		if ok && len(sess.Messages) == 2 {
			sawUser = sess.Messages[0].Role == model.RoleUser
			sawPlaceholder = sess.Messages[1].IsPlaceholder()
		}
		return emit("done")
	})

	orch := New(st, streamer, DefaultConfig(), nil)
	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())
	assert.True(t, sawUser, "user message should be committed before streaming")
	assert.True(t, sawPlaceholder, "placeholder should be committed before streaming")
}

func TestSendHistoryExcludesCurrentTurn(t *testing.T) {
	scripted := provider.NewScripted("answer")
	orch, _ := newOrchestrator(t, scripted)

	tn, err := orch.Send(context.Background(), "first question")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())

	// First turn sees an empty baseline.
	assert.Empty(t, scripted.Requests[0].History)

	tn2, err := orch.Send(context.Background(), "second question")
	require.NoError(t, err)
	require.NoError(t, tn2.Wait())

	// Second turn sees the first turn's pair but not its own messages.
	history := scripted.Requests[1].History
	require.Len(t, history, 2)
	assert.Equal(t, "first question", history[0].Content)
	assert.Equal(t, "answer", history[1].Content)
	assert.Equal(t, "second question", scripted.Requests[1].NewText)
}

func TestSendFailureKeepsPartialAndAppendsNotice(t *testing.T) {
	scripted := provider.NewScriptedFailure(2, nil, "one ", "two ", "never")
	orch, st := newOrchestrator(t, scripted)

	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Error(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "one two \n\n"+FailureNotice, sess.Messages[1].Content)
}

func TestSendFailureWithNoDeltasShowsNoticeOnly(t *testing.T) {
	scripted := provider.NewScriptedFailure(0, nil)
	orch, st := newOrchestrator(t, scripted)

	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Error(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, FailureNotice, sess.Messages[1].Content)
}

func TestSendSameSessionRejectedWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	streamer := streamerFunc(func(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
		close(started)
		<-release
		return emit("late answer")
	})
	orch, st := newOrchestrator(t, streamer)

	tn, err := orch.Send(context.Background(), "first")
	require.NoError(t, err)
	<-started

	_, err = orch.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	// The rejected send changed nothing.
	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	close(release)
	require.NoError(t, tn.Wait())
	assert.False(t, orch.InFlight(tn.SessionID))
}

func TestSendConcurrentSessionsDoNotInterleave(t *testing.T) {
	release := make(chan struct{})
	streamer := streamerFunc(func(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
		<-release
		return emit("reply to: " + req.NewText)
	})
	orch, st := newOrchestrator(t, streamer)

	sessA := st.Create()
	turnA, err := orch.Send(context.Background(), "question A")
	require.NoError(t, err)
	require.Equal(t, sessA.ID, turnA.SessionID)

	sessB := st.Create()
	turnB, err := orch.Send(context.Background(), "question B")
	require.NoError(t, err)
	require.Equal(t, sessB.ID, turnB.SessionID)

	close(release)
	require.NoError(t, turnA.Wait())
	require.NoError(t, turnB.Wait())

	gotA, err := st.Get(sessA.ID)
	require.NoError(t, err)
	gotB, err := st.Get(sessB.ID)
	require.NoError(t, err)
	assert.Equal(t, "reply to: question A", gotA.Messages[1].Content)
	assert.Equal(t, "reply to: question B", gotB.Messages[1].Content)
}

func TestSendNothingToSend(t *testing.T) {
	orch, st := newOrchestrator(t, provider.NewScripted("ok"))

	_, err := orch.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNothingToSend)
	assert.Equal(t, 0, st.Len())
}

func TestSendAttachmentOnly(t *testing.T) {
	scripted := provider.NewScripted("nice chart")
	orch, st := newOrchestrator(t, scripted)

	att := &model.Attachment{Kind: model.AttachmentImage, MimeType: "image/png", FileName: "chart.png", Content: "data:image/png;base64,aGk="}
	orch.Attach(att)

	tn, err := orch.Send(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess.Messages[0].Attachment)
	assert.Equal(t, "chart.png", sess.Messages[0].Attachment.FileName)
	assert.Same(t, att, scripted.LastRequest().Attachment)

	// Success consumes the staged attachment.
	assert.Nil(t, orch.PendingAttachment())
}

func TestSendFailureRetainsAttachment(t *testing.T) {
	scripted := provider.NewScriptedFailure(0, nil)
	orch, _ := newOrchestrator(t, scripted)

	att := &model.Attachment{Kind: model.AttachmentDocument, MimeType: "application/pdf", FileName: "report.pdf", Content: "data:application/pdf;base64,aGk="}
	orch.Attach(att)

	tn, err := orch.Send(context.Background(), "summarize this")
	require.NoError(t, err)
	require.Error(t, tn.Wait())

	assert.Same(t, att, orch.PendingAttachment())
}

func TestCancelSettlesAsFailed(t *testing.T) {
	streamer := streamerFunc(func(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
		if err := emit("partial "); err != nil {
			return err
		}
		<-ctx.Done()
		return &provider.ProviderError{Type: provider.ErrTypeTimeout, Message: "stream aborted", Cause: ctx.Err()}
	})
	orch, st := newOrchestrator(t, streamer)

	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)

	// Let the first delta land before cancelling.
	require.Eventually(t, func() bool {
		sess, err := st.Get(tn.SessionID)
		return err == nil && sess.Messages[1].Content != ""
	}, time.Second, 5*time.Millisecond)

	orch.Cancel(tn.SessionID)
	require.Error(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "partial \n\n"+FailureNotice, sess.Messages[1].Content)
	assert.False(t, orch.InFlight(tn.SessionID))
}

func TestStallTimeoutAbortsStream(t *testing.T) {
	streamer := streamerFunc(func(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
		if err := emit("started "); err != nil {
			return err
		}
		<-ctx.Done()
		return &provider.ProviderError{Type: provider.ErrTypeTimeout, Message: "stream aborted", Cause: ctx.Err()}
	})

	st := store.New(t.TempDir(), nil)
	config := DefaultConfig()
	config.StallTimeout = 30 * time.Millisecond
	orch := New(st, streamer, config, nil)

	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Error(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "started \n\n"+FailureNotice, sess.Messages[1].Content)
}

func TestSendEvents(t *testing.T) {
	var phases []Phase
	orch, _ := newOrchestrator(t, provider.NewScripted("a", "b"))
	done := make(chan struct{})
	orch.SetNotify(func(ev Event) {
		phases = append(phases, ev.Phase)
		if ev.Phase == PhaseSucceeded {
			close(done)
		}
	})

	tn, err := orch.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())
	<-done

	assert.Equal(t, []Phase{PhaseSending, PhaseStreaming, PhaseStreaming, PhaseSucceeded}, phases)
}

func TestSendRepeatedIdenticalDeltasAccumulateInOrder(t *testing.T) {
	orch, st := newOrchestrator(t, provider.NewScripted("la", "la", "la"))

	tn, err := orch.Send(context.Background(), "sing")
	require.NoError(t, err)
	require.NoError(t, tn.Wait())

	sess, err := st.Get(tn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "lalala", sess.Messages[1].Content)
}
