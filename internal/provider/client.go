// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/gekichat/internal/model"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration for the HTTP streaming client.
type ClientConfig struct {
	// BaseURL of the completion backend.
	BaseURL string

	// APIKey sent as a bearer token. Empty means no auth header.
	APIKey string

	// DefaultModel used when a request carries no model id.
	DefaultModel string

	// SystemPrompt prepended to every request, if set.
	SystemPrompt string

	// ConnectTimeout bounds request setup; the stream itself is bounded by
	// the caller's context.
	ConnectTimeout time.Duration

	// Temperature, TopP, TopK forwarded as generation options.
	Temperature float64
	TopP        float64
	TopK        int

	// RequestsPerMinute throttles outbound requests (0 = no limit).
	RequestsPerMinute int
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://127.0.0.1:8085",
		DefaultModel:   "flash",
		ConnectTimeout: 30 * time.Second,
		Temperature:    0.6,
		TopP:           0.9,
		TopK:           40,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client streams completions from an HTTP backend speaking line-delimited
// JSON chunks. It implements Streamer and is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a streaming client with the given configuration.
func NewClient(config *ClientConfig, logger *slog.Logger) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8085"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), config.RequestsPerMinute)
	}

	return &Client{
		config: config,
		// No overall client timeout: streams are long-lived and the caller's
		// context bounds them. ConnectTimeout bounds request setup only.
		httpClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: config.ConnectTimeout},
		},
		limiter: limiter,
		logger:  logger,
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// wireMessage is one history entry as the backend sees it.
type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	InlineData *wireInlineData `json:"inline_data,omitempty"`
}

// wireInlineData carries an attachment split into separate fields.
type wireInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// wireRequest is the streaming request body.
type wireRequest struct {
	Model    string        `json:"model"`
	System   string        `json:"system,omitempty"`
	Messages []wireMessage `json:"messages"`
	Options  wireOptions   `json:"options"`
	Stream   bool          `json:"stream"`
}

// wireOptions are generation parameters.
type wireOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

// wireError is the JSON error body for non-200 responses.
type wireError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream implements Streamer. It translates the abstract request into the
// wire format, opens the stream and forwards each delta to emit in arrival
// order. Partial text already emitted stays with the caller when the
// transport breaks mid-stream.
func (c *Client) Stream(ctx context.Context, req Request, emit DeltaFunc) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &ProviderError{Type: ErrTypeTimeout, Message: "rate limit wait aborted", Cause: err}
		}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = c.config.DefaultModel
	}

	body, err := json.Marshal(wireRequest{
		Model:    modelID,
		System:   c.config.SystemPrompt,
		Messages: c.buildMessages(req),
		Options: wireOptions{
			Temperature: c.config.Temperature,
			TopP:        c.config.TopP,
			TopK:        c.config.TopK,
		},
		Stream: true,
	})
	if err != nil {
		return &ProviderError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &ProviderError{Type: ErrTypeTimeout, Message: "request aborted", Cause: err}
		}
		return &ProviderError{Type: ErrTypeConnection, Message: "backend unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	reader := NewStreamReader(resp.Body)
	return reader.Process(ctx, emit)
}

// buildMessages translates history plus the new user turn into wire
// messages. The abstract model role becomes the backend's "assistant";
// system-role history entries are skipped (the system prompt travels in its
// own field). The new text carries the attachment split into MIME type and
// payload.
func (c *Client) buildMessages(req Request) []wireMessage {
	messages := make([]wireMessage, 0, len(req.History)+1)

	for _, msg := range req.History {
		var role string
		switch msg.Role {
		case model.RoleUser:
			role = "user"
		case model.RoleModel:
			role = "assistant"
		default:
			continue
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, wireMessage{Role: role, Content: msg.Content})
	}

	userMsg := wireMessage{Role: "user", Content: req.NewText}
	if req.Attachment != nil {
		mimeType, data := model.SplitDataURL(req.Attachment.Content, req.Attachment.MimeType)
		if mimeType == "" {
			mimeType = req.Attachment.MimeType
		}
		userMsg.InlineData = &wireInlineData{MimeType: mimeType, Data: data}
	}
	messages = append(messages, userMsg)

	return messages
}

// statusError maps a non-200 response onto the provider error taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	var backendErr wireError
	detail := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&backendErr); err == nil && backendErr.Error != "" {
		detail = backendErr.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusBadRequest:
		return &ProviderError{Type: ErrTypeBadModel, Message: detail}
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return &ProviderError{Type: ErrTypeQuota, Message: detail}
	default:
		return &ProviderError{Type: ErrTypeInvalidResponse, Message: "stream request failed: " + detail}
	}
}
