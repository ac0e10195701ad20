// Package llm is the chat completion surface the composer writes through.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider sends chat completion requests to a model backend.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Config holds the settings shared by providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	// Stop sequences end generation early.
	Stop []string
	// Timeout bounds one HTTP attempt. Zero means 60s.
	Timeout time.Duration
	// MaxRetries is how many times a transient failure is retried.
	MaxRetries int
}

// ErrEmptyCompletion is returned when the backend answers with no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// APIError is a non-2xx answer from the model backend.
type APIError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's requested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether err wraps a retryable APIError.
func IsTemporary(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Temporary()
}
