// Package openai implements llm.Provider for OpenAI-compatible chat APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/feedlane/pkg/llm"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetryWait   = 30 * time.Second
	// maxErrorBody caps how much of a failed response ends up in an error.
	maxErrorBody = 512
)

// Client talks to one /chat/completions endpoint.
type Client struct {
	cfg        llm.Config
	endpoint   string
	httpClient *http.Client
	retryBase  time.Duration
}

// New creates a client from cfg.
func New(cfg *llm.Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:        *cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: timeout},
		retryBase:  time.Second,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends messages and returns the first choice. Rate limits and
// server errors are retried up to MaxRetries times.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	body, err := json.Marshal(c.request(messages))
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		var apiErr *llm.APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		wait := c.retryWait(attempt, apiErr.RetryAfter)
		slog.Warn("llm request failed, retrying", "status", apiErr.StatusCode, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) request(messages []llm.Message) chatRequest {
	req := chatRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
		Stop:      c.cfg.Stop,
	}
	if c.cfg.Temperature != 0 {
		temp := c.cfg.Temperature
		req.Temperature = &temp
	}
	return req
}

func (c *Client) do(ctx context.Context, body []byte) (*llm.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &llm.APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, llm.ErrEmptyCompletion
	}

	first := parsed.Choices[0]
	return &llm.Response{
		Content:      first.Message.Content,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
	}, nil
}

// retryWait prefers the server's Retry-After, else doubles from retryBase.
func (c *Client) retryWait(attempt int, retryAfter time.Duration) time.Duration {
	wait := retryAfter
	if wait <= 0 {
		wait = c.retryBase << attempt
	}
	return min(wait, maxRetryWait)
}

// parseRetryAfter reads the delta-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
