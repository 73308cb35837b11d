package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	cliChunkSize  = 50
	cliChunkDelay = 10 * time.Millisecond
)

// CLIConfig configures a CLIGateway.
type CLIConfig struct {
	Path          string
	Model         string
	Timeout       time.Duration
	MaxConcurrent int64
}

// CLIGateway runs the model through a locally installed command line client.
// The client has no streaming mode, so Stream replays the finished response
// in fixed-size chunks.
type CLIGateway struct {
	path       string
	model      string
	timeout    time.Duration
	sem        *semaphore.Weighted
	logger     *slog.Logger
	chunkSize  int
	chunkDelay time.Duration
}

// NewCLIGateway resolves the client binary and returns a gateway for it.
func NewCLIGateway(cfg CLIConfig, logger *slog.Logger) (*CLIGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "claude"
	}
	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: CLI %q not found: %v", ErrNotConfigured, cfg.Path, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	return &CLIGateway{
		path:       path,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:     logger,
		chunkSize:  cliChunkSize,
		chunkDelay: cliChunkDelay,
	}, nil
}

// Name returns "cli".
func (g *CLIGateway) Name() string { return "cli" }

// Close is a no-op.
func (g *CLIGateway) Close() error { return nil }

// transcript flattens the request into the plain-text form the CLI reads.
func transcript(req Request) string {
	parts := make([]string, 0, len(req.History)+2)
	parts = append(parts, "System: "+req.System+"\n")
	for _, m := range req.Messages() {
		role := m.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		parts = append(parts, role+": "+m.Content+"\n")
	}
	return strings.Join(parts, "\n")
}

// Complete runs the CLI once and returns its trimmed stdout.
func (g *CLIGateway) Complete(ctx context.Context, req Request) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args := []string{"-p", "--output-format", "text"}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}

	cmd := exec.CommandContext(ctx, g.path, args...)
	cmd.Stdin = strings.NewReader(transcript(req))
	// Children of the CLI may hold stdout open after it is killed.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("CLI timed out after %v: %w", g.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("CLI execution canceled: %w", ctx.Err())
		}
		stderrStr := stderr.String()
		if isRateLimitMessage(stderrStr) {
			return "", &RateLimitError{Provider: g.Name(), Body: truncate(stderrStr, 200)}
		}
		return "", fmt.Errorf("CLI execution failed: %w (stderr: %s)", err, truncate(stderrStr, 500))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	g.logger.Debug("Model completion finished",
		"backend", g.Name(), "duration", time.Since(start), "response_len", len(text))
	return text, nil
}

// Stream runs Complete and yields the result in chunks of at most fifty
// characters with a short pause between them.
func (g *CLIGateway) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := g.Complete(ctx, req)
		if err != nil {
			yield("", err)
			return
		}

		for i, chunk := range chunkString(text, g.chunkSize) {
			if i > 0 && g.chunkDelay > 0 {
				select {
				case <-time.After(g.chunkDelay):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// chunkString splits s into pieces of at most n runes.
func chunkString(s string, n int) []string {
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/n+1)
	for i := 0; i < len(runes); i += n {
		end := min(i+n, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func isRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}
