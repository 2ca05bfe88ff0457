// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/gekichat/internal/archive"
	"github.com/jeranaias/gekichat/internal/attachment"
	"github.com/jeranaias/gekichat/internal/config"
	"github.com/jeranaias/gekichat/internal/model"
	"github.com/jeranaias/gekichat/internal/store"
	"github.com/jeranaias/gekichat/internal/turn"
	"github.com/jeranaias/gekichat/internal/voice"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("6")).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	pinStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))
)

// =============================================================================
// REPL
// =============================================================================

// repl is the interactive chat loop.
type repl struct {
	cfg     *config.Config
	store   *store.Store
	orch    *turn.Orchestrator
	archive *archive.Archive
	voice   *voice.Bridge
	codec   *attachment.Codec
	logger  *slog.Logger

	line        *liner.State
	historyFile string

	// listing maps /list ordinals to session ids for /switch, /pin, /delete.
	listing []string
}

// newREPL wires the interactive loop over the assembled components.
func newREPL(cfg *config.Config, st *store.Store, orch *turn.Orchestrator, arc *archive.Archive, logger *slog.Logger) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &repl{
		cfg:     cfg,
		store:   st,
		orch:    orch,
		archive: arc,
		codec:   &attachment.Codec{MaxBytes: cfg.Chat.AttachmentMaxBytes},
		logger:  logger,
		line:    line,
	}

	if dir, err := config.ConfigDir(); err == nil {
		r.historyFile = filepath.Join(dir, "input_history")
		if f, err := os.Open(r.historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	// Dictation falls back to a typed prompt when no microphone capability
	// is wired in; the bridge semantics are identical either way.
	r.voice = voice.NewBridge(voice.TranscriberFunc(func(ctx context.Context) (string, error) {
		return line.Prompt(promptStyle.Render("dictate> "))
	}), orch, logger)

	return r
}

// Close saves input history and releases the terminal.
func (r *repl) Close() {
	if r.historyFile != "" {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// Run drives the interactive loop until /quit or EOF.
func (r *repl) Run() error {
	fmt.Println(welcomeStyle.Render("gekichat"))
	fmt.Println(infoStyle.Render("Type a message, or /help for commands."))
	if sess, ok := r.store.Current(); ok && !sess.IsEmpty() {
		fmt.Println(infoStyle.Render("Resuming: " + sess.DisplayTitle()))
	}
	fmt.Println()

	for {
		input, err := r.line.Prompt(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			// EOF (Ctrl+D) exits cleanly.
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(input); quit {
				return nil
			}
			continue
		}

		r.send(input)
	}
}

// =============================================================================
// SENDING
// =============================================================================

// send runs one turn and prints the streamed reply.
func (r *repl) send(text string) {
	printed := 0
	r.orch.SetNotify(func(ev turn.Event) {
		if ev.Phase != turn.PhaseStreaming {
			return
		}
		// Content is the accumulated text; print only the unseen tail.
		if len(ev.Content) > printed {
			fmt.Print(ev.Content[printed:])
			printed = len(ev.Content)
		}
	})

	t, err := r.orch.Send(context.Background(), text)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrTurnInFlight):
			fmt.Println(infoStyle.Render("(still generating, send ignored)"))
		case errors.Is(err, turn.ErrNothingToSend):
			// Nothing staged either; silently ignore.
		default:
			fmt.Println(errorStyle.Render("error: " + err.Error()))
		}
		return
	}

	streamErr := t.Wait()
	fmt.Println()
	if streamErr != nil {
		fmt.Println(errorStyle.Render(turn.FailureNotice))
	}
	fmt.Println()

	r.recordTurn(t, streamErr != nil)
}

// recordTurn appends the settled turn to the archive.
func (r *repl) recordTurn(t *turn.Turn, failed bool) {
	if r.archive == nil {
		return
	}
	sess, err := r.store.Get(t.SessionID)
	if err != nil {
		return
	}
	var userText, replyText string
	for _, msg := range sess.Messages {
		if msg.TurnID != t.TurnID {
			continue
		}
		switch msg.Role {
		case model.RoleUser:
			userText = msg.Content
		case model.RoleModel:
			replyText = msg.Content
		}
	}
	if err := r.archive.RecordTurn(t.SessionID, t.TurnID, userText, replyText, r.orch.Model(), failed); err != nil {
		r.logger.Warn("archive write failed", slog.String("error", err.Error()))
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// handleCommand dispatches a /command. Returns true to exit the loop.
func (r *repl) handleCommand(input string) bool {
	parts := strings.Fields(input)
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return true
	case "/help", "/h":
		r.printHelp()
	case "/new":
		sess := r.store.Create()
		fmt.Println(infoStyle.Render("Started session " + sess.ID))
	case "/list", "/l":
		r.printList()
	case "/switch":
		r.withListedSession(args, func(id string) {
			if err := r.store.SetCurrent(id); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				return
			}
			r.printTranscript(id)
		})
	case "/pin":
		r.withListedSession(args, func(id string) {
			if err := r.store.SetPinned(id, true); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
		})
	case "/unpin":
		r.withListedSession(args, func(id string) {
			if err := r.store.SetPinned(id, false); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
		})
	case "/delete":
		r.withListedSession(args, func(id string) {
			if err := r.store.Delete(id); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				return
			}
			fmt.Println(infoStyle.Render("Deleted."))
		})
	case "/reset":
		if err := r.store.Reset(); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			break
		}
		fmt.Println(infoStyle.Render("All sessions cleared."))
	case "/attach":
		r.attach(args)
	case "/detach":
		r.orch.ClearAttachment()
		fmt.Println(infoStyle.Render("Attachment cleared."))
	case "/model", "/m":
		r.model(args)
	case "/voice", "/v":
		r.dictate()
	case "/recent":
		r.recent(args)
	case "/search":
		r.search(args)
	default:
		fmt.Println(infoStyle.Render("Unknown command. Try /help."))
	}
	return false
}

func (r *repl) printHelp() {
	help := `
/new              Start a new session
/list             List sessions (pinned first)
/switch N         Switch to session N from the last /list
/pin N, /unpin N  Pin or unpin session N
/delete N         Delete session N
/attach PATH      Stage a file attachment for the next send
/detach           Drop the staged attachment
/model [name]     Show or switch model
/voice            Dictate the next message
/recent [n]       Show recently archived turns
/search TEXT      Search archived turns
/reset            Delete all sessions for this identity
/quit             Exit`
	fmt.Println(infoStyle.Render(strings.TrimSpace(help)))
}

func (r *repl) printList() {
	sessions := r.store.List()
	if len(sessions) == 0 {
		fmt.Println(infoStyle.Render("No sessions yet."))
		return
	}
	currentID := r.store.CurrentID()
	r.listing = r.listing[:0]
	for i, sess := range sessions {
		r.listing = append(r.listing, sess.ID)
		marker := "  "
		if sess.ID == currentID {
			marker = "* "
		}
		title := sess.DisplayTitle()
		if sess.Pinned {
			title = pinStyle.Render("[pinned] ") + title
		}
		fmt.Printf("%s%2d. %s %s\n", marker, i+1, title,
			infoStyle.Render(sess.UpdatedAt.Format("2006-01-02 15:04")))
	}
}

// withListedSession resolves a /list ordinal argument and runs fn on the
// session id.
func (r *repl) withListedSession(args []string, fn func(id string)) {
	if len(args) == 0 {
		fmt.Println(infoStyle.Render("Run /list first, then pass a session number."))
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.listing) {
		fmt.Println(infoStyle.Render("No such session number; run /list to refresh."))
		return
	}
	fn(r.listing[n-1])
}

func (r *repl) printTranscript(id string) {
	sess, err := r.store.Get(id)
	if err != nil {
		return
	}
	fmt.Println(welcomeStyle.Render(sess.DisplayTitle()))
	for _, msg := range sess.Messages {
		fmt.Printf("%s %s\n", promptStyle.Render(msg.Role.DisplayName()+":"), msg.Content)
	}
	fmt.Println()
}

func (r *repl) attach(args []string) {
	if len(args) == 0 {
		if att := r.orch.PendingAttachment(); att != nil {
			fmt.Println(infoStyle.Render("Staged: " + att.FileName + " (" + att.MimeType + ")"))
		} else {
			fmt.Println(infoStyle.Render("Usage: /attach PATH"))
		}
		return
	}
	att, err := r.codec.EncodeFile(strings.Join(args, " "))
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	r.orch.Attach(att)
	fmt.Println(infoStyle.Render("Attached " + att.FileName + "; it will go out with your next message."))
}

func (r *repl) model(args []string) {
	if len(args) == 0 {
		fmt.Println(infoStyle.Render("Model: " + r.orch.Model()))
		fmt.Println(infoStyle.Render("Available: " + strings.Join(r.cfg.Chat.Models, ", ")))
		return
	}
	name := args[0]
	for _, m := range r.cfg.Chat.Models {
		if m == name {
			r.orch.SetModel(name)
			fmt.Println(infoStyle.Render("Switched to " + name))
			return
		}
	}
	fmt.Println(errorStyle.Render("Unknown model: " + name))
}

func (r *repl) dictate() {
	t, err := r.voice.CaptureAndSend(context.Background())
	if err != nil {
		switch {
		case errors.Is(err, voice.ErrCaptureBusy):
			fmt.Println(infoStyle.Render("(busy, try again once the current reply settles)"))
		case errors.Is(err, voice.ErrEmptyTranscript):
			fmt.Println(infoStyle.Render("(nothing captured)"))
		default:
			fmt.Println(errorStyle.Render(err.Error()))
		}
		return
	}

	streamErr := t.Wait()
	sess, err := r.store.Get(t.SessionID)
	if err == nil {
		if msg := sess.MessageByID(t.ReplyMessageID); msg != nil {
			fmt.Println(msg.Content)
		}
	}
	fmt.Println()
	r.recordTurn(t, streamErr != nil)
}

func (r *repl) recent(args []string) {
	if r.archive == nil {
		fmt.Println(infoStyle.Render("Archive disabled."))
		return
	}
	limit := 10
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			limit = n
		}
	}
	entries, err := r.archive.Recent(limit)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	r.printEntries(entries)
}

func (r *repl) search(args []string) {
	if r.archive == nil {
		fmt.Println(infoStyle.Render("Archive disabled."))
		return
	}
	if len(args) == 0 {
		fmt.Println(infoStyle.Render("Usage: /search TEXT"))
		return
	}
	entries, err := r.archive.Search(strings.Join(args, " "), 10)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	r.printEntries(entries)
}

func (r *repl) printEntries(entries []archive.Entry) {
	if len(entries) == 0 {
		fmt.Println(infoStyle.Render("No matches."))
		return
	}
	for _, e := range entries {
		status := ""
		if e.Failed {
			status = errorStyle.Render(" [failed]")
		}
		fmt.Printf("%s%s\n", infoStyle.Render(e.CreatedAt.Format("2006-01-02 15:04")), status)
		fmt.Printf("  you: %s\n", firstLine(e.UserText, 80))
		fmt.Printf("  bot: %s\n", firstLine(e.ReplyText, 80))
	}
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}
