// Package mcpserver exposes the domain-mapping skill as MCP tools.
package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ashureev/portfolio-skills/internal/domain"
	"github.com/ashureev/portfolio-skills/internal/mapping"
)

// Skill is the part of the domain-mapping skill the tools call.
type Skill interface {
	ProcessTurn(ctx context.Context, req mapping.TurnRequest) (*mapping.TurnResponse, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	Reset(ctx context.Context, sessionID string) error
	SuggestImprovements(ctx context.Context, schema *domain.ContentSchema) ([]string, error)
	GenerateSchema(ctx context.Context, description, profession string) (*domain.ContentSchema, error)
}

// New creates an MCP server with all skill tools registered.
func New(skill Skill, version string) *mcp.Server {
	t := &Tools{Skill: skill}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "portfolio-skills",
		Version: version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "domain_mapping_turn",
		Description: "Send one user message to the domain-mapping conversation and get the assistant reply, state and schema when complete",
	}, t.Turn)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "domain_mapping_history",
		Description: "Return the message history of a domain-mapping session",
	}, t.History)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "domain_mapping_reset",
		Description: "Discard a domain-mapping session",
	}, t.Reset)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "suggest_schema_improvements",
		Description: "Suggest improvements for a content schema",
	}, t.Suggest)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "generate_schema",
		Description: "Generate a complete content schema from a portfolio description in one step",
	}, t.Generate)

	return srv
}
