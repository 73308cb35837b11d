package llm

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/portfolio-skills/internal/config"
)

// New builds the gateway selected by cfg.Backend.
func New(cfg config.LLMConfig, logger *slog.Logger) (Gateway, error) {
	switch cfg.Backend {
	case config.BackendAPI:
		return NewMessagesGateway(MessagesConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
	case config.BackendCLI:
		return NewCLIGateway(CLIConfig{
			Path:          cfg.CLIPath,
			Model:         cfg.Model,
			Timeout:       cfg.Timeout,
			MaxConcurrent: cfg.MaxConcurrent,
		}, logger)
	case config.BackendGRPC:
		return NewGRPCGateway(cfg.GRPCAddr, logger)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrNotConfigured, cfg.Backend)
}

var (
	_ Gateway = (*MessagesGateway)(nil)
	_ Gateway = (*CLIGateway)(nil)
	_ Gateway = (*GRPCGateway)(nil)
)
