// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// gekichat - streaming chat client with durable sessions.
//
// Usage:
//   gekichat                 Start the interactive chat REPL
//   gekichat --model pro     Use a specific model
//   gekichat --config PATH   Use a specific config file
//
// Interactive commands (during chat):
//   /help               Show available commands
//   /new                Start a new session
//   /list               List sessions (pinned first)
//   /switch N           Switch to session N from /list
//   /pin N, /unpin N    Pin or unpin session N
//   /delete N           Delete session N
//   /attach PATH        Stage a file attachment for the next send
//   /detach             Drop the staged attachment
//   /model [name]       Show or switch model
//   /voice              Dictate the next message
//   /recent [n]         Show recently archived turns
//   /search TEXT        Search archived turns
//   /reset              Delete all sessions for this identity
//   /quit               Exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeranaias/gekichat/internal/archive"
	"github.com/jeranaias/gekichat/internal/config"
	"github.com/jeranaias/gekichat/internal/provider"
	"github.com/jeranaias/gekichat/internal/store"
	"github.com/jeranaias/gekichat/internal/turn"
)

func main() {
	modelFlag := flag.String("model", "", "model id (overrides config)")
	configFlag := flag.String("config", "", "config file path")
	identityFlag := flag.String("identity", "", "identity key for session persistence")
	verboseFlag := flag.Bool("verbose", false, "verbose logging")
	flag.Parse()

	if err := run(*modelFlag, *configFlag, *identityFlag, *verboseFlag); err != nil {
		fmt.Fprintf(os.Stderr, "gekichat: %v\n", err)
		os.Exit(1)
	}
}

func run(modelOverride, configPath, identity string, verbose bool) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Configuration.
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
		if p, pathErr := config.ConfigPath(); pathErr == nil {
			configPath = p
		}
	}
	if err != nil {
		return err
	}
	if modelOverride != "" {
		cfg.Chat.DefaultModel = modelOverride
	}

	dataDir, err := cfg.DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Session store, loaded for the active identity.
	if identity == "" {
		identity = os.Getenv("GEKICHAT_IDENTITY")
	}
	if identity == "" {
		identity = "anonymous"
	}
	st := store.New(dataDir, logger)
	if err := st.LoadForIdentity(identity); err != nil {
		return err
	}

	// Streaming backend. The switchable wrapper lets a config reload swap
	// the client under a running REPL.
	streamer := &switchableStreamer{}
	streamer.swap(newClient(cfg, logger))

	orchConfig := turn.DefaultConfig()
	orchConfig.ModelID = cfg.Chat.DefaultModel
	orchConfig.StallTimeout = time.Duration(cfg.Chat.StallTimeoutSecs) * time.Second
	orch := turn.New(st, streamer, orchConfig, logger)

	// Turn archive.
	var arc *archive.Archive
	if cfg.Storage.ArchiveEnabled {
		arc, err = archive.Open(filepath.Join(dataDir, "archive.db"))
		if err != nil {
			logger.Warn("archive disabled", slog.String("error", err.Error()))
		} else {
			defer arc.Close()
		}
	}

	// Hot reload: endpoint/model changes apply without a restart.
	if configPath != "" {
		watcher, watchErr := config.Watch(configPath, func(next *config.Config) {
			streamer.swap(newClient(next, logger))
			orch.SetModel(next.Chat.DefaultModel)
		}, logger)
		if watchErr != nil {
			logger.Warn("config watch unavailable", slog.String("error", watchErr.Error()))
		} else {
			defer watcher.Close()
		}
	}

	repl := newREPL(cfg, st, orch, arc, logger)
	defer repl.Close()
	return repl.Run()
}

// newClient builds a provider client from the active configuration.
func newClient(cfg *config.Config, logger *slog.Logger) *provider.Client {
	return provider.NewClient(&provider.ClientConfig{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		DefaultModel:      cfg.Chat.DefaultModel,
		SystemPrompt:      cfg.Provider.SystemPrompt,
		ConnectTimeout:    time.Duration(cfg.Provider.ConnectTimeoutSecs) * time.Second,
		Temperature:       cfg.Provider.Temperature,
		TopP:              cfg.Provider.TopP,
		TopK:              cfg.Provider.TopK,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
	}, logger)
}

// switchableStreamer is a Streamer whose backing client can be replaced at
// runtime. In-flight streams keep the client they started with.
type switchableStreamer struct {
	mu      sync.RWMutex
	current provider.Streamer
}

func (s *switchableStreamer) swap(next provider.Streamer) {
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
}

func (s *switchableStreamer) Stream(ctx context.Context, req provider.Request, emit provider.DeltaFunc) error {
	s.mu.RLock()
	c := s.current
	s.mu.RUnlock()
	return c.Stream(ctx, req, emit)
}
