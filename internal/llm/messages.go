package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the hosted Messages API root.
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	maxAPIRetries    = 3
)

// MessagesConfig configures a MessagesGateway.
type MessagesConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// MessagesGateway talks to the hosted Messages API over HTTP.
type MessagesGateway struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	backoff    func(attempt int) time.Duration
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

// NewMessagesGateway creates a gateway for the hosted API. It returns
// ErrNotConfigured when no API key is set.
func NewMessagesGateway(cfg MessagesConfig, logger *slog.Logger) (*MessagesGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &MessagesGateway{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt-1)) * time.Second
		},
	}, nil
}

// Name returns "api".
func (g *MessagesGateway) Name() string { return "api" }

// Close releases idle connections.
func (g *MessagesGateway) Close() error {
	g.httpClient.CloseIdleConnections()
	return nil
}

func (g *MessagesGateway) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       g.model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Messages:    req.Messages(),
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", g.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// Complete sends req and returns the concatenated text blocks. Rate limits and
// server errors are retried with exponential backoff.
func (g *MessagesGateway) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= maxAPIRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.backoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, retry, err := g.completeOnce(ctx, req)
		if err == nil {
			g.logger.Debug("Model completion finished",
				"backend", g.Name(), "model", g.model,
				"duration", time.Since(start), "response_len", len(text))
			return text, nil
		}
		if !retry || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		g.logger.Warn("Model request failed, retrying", "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (g *MessagesGateway) completeOnce(ctx context.Context, req Request) (string, bool, error) {
	httpReq, err := g.newRequest(ctx, req, false)
	if err != nil {
		return "", false, err
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, &RateLimitError{
			Provider:   g.Name(),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       truncate(string(body), 200),
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", true, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	case resp.StatusCode != http.StatusOK:
		return "", false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	var out strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", false, ErrEmptyResponse
	}
	return out.String(), false, nil
}

// Stream sends req with server-sent events enabled and yields text deltas.
func (g *MessagesGateway) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		httpReq, err := g.newRequest(ctx, req, true)
		if err != nil {
			yield("", err)
			return
		}

		resp, err := g.httpClient.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			yield("", &RateLimitError{
				Provider:   g.Name(),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				Body:       truncate(string(body), 200),
			})
			return
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield("", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}

			var evt streamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			if evt.Error != nil {
				yield("", fmt.Errorf("API error: %s", evt.Error.Message))
				return
			}
			if evt.Type == "message_stop" {
				return
			}
			if evt.Type == "content_block_delta" && evt.Delta != nil && evt.Delta.Text != "" {
				if !yield(evt.Delta.Text, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			yield("", fmt.Errorf("stream error: %w", err))
		}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
