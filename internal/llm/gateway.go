// Package llm provides gateways to the language model that drives the
// domain-mapping conversation: the hosted Messages API, a local CLI process
// and a gRPC sidecar.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// Roles used in gateway history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConfigured is returned when a backend lacks credentials or a binary.
	ErrNotConfigured = errors.New("llm backend not configured")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("llm returned empty response")
)

// Message is one prior conversation turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single model invocation.
type Request struct {
	System      string
	History     []Message
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Messages returns History with Prompt appended as the final user turn.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+1)
	msgs = append(msgs, r.History...)
	return append(msgs, Message{Role: RoleUser, Content: r.Prompt})
}

// Gateway sends prompts to a language model.
type Gateway interface {
	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream yields response text chunks in order. Iteration stops after the
	// first error.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]

	// Name identifies the backend in logs and health output.
	Name() string

	// Close releases resources.
	Close() error
}

// RateLimitError reports that the backend refused the request for quota reasons.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
	}
	return e.Provider + " rate limit exceeded"
}

// IsRateLimit reports whether err is or wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Collect drains a stream into a single string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var out []byte
	for chunk, err := range seq {
		if err != nil {
			return string(out), err
		}
		out = append(out, chunk...)
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
