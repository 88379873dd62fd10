// Package ai calls a hosted language model over its messages API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 512
	apiVersion       = "2023-06-01"
)

// Completer produces one assistant reply for a system prompt and user turn.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client implements Completer against the /v1/messages endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

var _ Completer = (*Client)(nil)

func NewClient(cfg config.AIConfig, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: ai.apiKey is not set", apperrors.ErrValidation)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: ai.model is not set", apperrors.ErrValidation)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Complete returns the concatenated text blocks of the reply. Transport
// failures, non-200 statuses and empty replies all wrap ErrCollaboratorUnavailable.
func (c *Client) Complete(ctx context.Context, system, user string) (reply string, err error) {
	start := time.Now()
	defer func() { observer.ObserveAICompletion(time.Since(start), err) }()

	body, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w: completion: %v", apperrors.ErrCollaboratorUnavailable, apperrors.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: completion request: %v", apperrors.ErrCollaboratorUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read completion: %v", apperrors.ErrCollaboratorUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %w: completion api", apperrors.ErrCollaboratorUnavailable, apperrors.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: completion api status %d: %s", apperrors.ErrCollaboratorUnavailable, resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("%w: parse completion: %v", apperrors.ErrCollaboratorUnavailable, err)
	}

	var texts []string
	for _, block := range apiResp.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	reply = strings.TrimSpace(strings.Join(texts, "\n"))
	if reply == "" {
		return "", fmt.Errorf("%w: completion returned no text", apperrors.ErrCollaboratorUnavailable)
	}
	return reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Disabled is used when no API key is configured. Every completion fails as
// unavailable so bots fall back and escalate.
type Disabled struct{}

var _ Completer = Disabled{}

func (Disabled) Complete(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: ai completions are not configured", apperrors.ErrCollaboratorUnavailable)
}
