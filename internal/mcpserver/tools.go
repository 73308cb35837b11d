package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ashureev/portfolio-skills/internal/domain"
	"github.com/ashureev/portfolio-skills/internal/identity"
	"github.com/ashureev/portfolio-skills/internal/mapping"
)

// Tools holds the skill used by the tool handlers.
type Tools struct {
	Skill Skill
}

// --- Input types ---

type TurnInput struct {
	UserMessage string         `json:"user_message" jsonschema:"The user's message"`
	SessionID   string         `json:"session_id,omitempty" jsonschema:"Session to continue; a new one is started when empty"`
	Profession  string         `json:"profession,omitempty" jsonschema:"Optional profession override"`
	Context     map[string]any `json:"context,omitempty" jsonschema:"Optional context overrides such as portfolioType"`
}

type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id"`
}

type SuggestInput struct {
	Schema map[string]any `json:"schema,omitempty" jsonschema:"The content schema to review"`
}

type GenerateInput struct {
	Description string `json:"description" jsonschema:"Free-form description of the portfolio"`
	Profession  string `json:"profession,omitempty" jsonschema:"Optional profession hint"`
}

type turnOutput struct {
	SessionID string `json:"sessionId"`
	*mapping.TurnResponse
}

// --- Handlers ---

func (t *Tools) Turn(ctx context.Context, _ *mcp.CallToolRequest, input TurnInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.UserMessage) == "" {
		return toolError("user_message is required"), nil, nil
	}
	sid := input.SessionID
	if sid == "" {
		sid = identity.NewSessionID()
	} else if clean, ok := identity.SanitizeSessionID(sid); ok {
		sid = clean
	} else {
		return toolError("Invalid session id %q", sid), nil, nil
	}

	resp, err := t.Skill.ProcessTurn(ctx, mapping.TurnRequest{
		UserMessage: input.UserMessage,
		SessionID:   sid,
		Profession:  input.Profession,
		Context:     input.Context,
		Channel:     "mcp",
	})
	if err != nil {
		return toolError("Turn failed: %v", err), nil, nil
	}
	return toolJSON(turnOutput{SessionID: sid, TurnResponse: resp})
}

func (t *Tools) History(ctx context.Context, _ *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, any, error) {
	sid, ok := identity.SanitizeSessionID(input.SessionID)
	if !ok {
		return toolError("A valid session_id is required"), nil, nil
	}
	history, err := t.Skill.History(ctx, sid)
	if err != nil {
		return toolError("Failed to load history: %v", err), nil, nil
	}
	return toolJSON(history)
}

func (t *Tools) Reset(ctx context.Context, _ *mcp.CallToolRequest, input SessionInput) (*mcp.CallToolResult, any, error) {
	sid, ok := identity.SanitizeSessionID(input.SessionID)
	if !ok {
		return toolError("A valid session_id is required"), nil, nil
	}
	if err := t.Skill.Reset(ctx, sid); err != nil {
		return toolError("Failed to reset session: %v", err), nil, nil
	}
	return toolText("Session " + sid + " reset"), nil, nil
}

func (t *Tools) Suggest(ctx context.Context, _ *mcp.CallToolRequest, input SuggestInput) (*mcp.CallToolResult, any, error) {
	if input.Schema == nil {
		return toolError("schema is required"), nil, nil
	}
	raw, err := json.Marshal(input.Schema)
	if err != nil {
		return toolError("Invalid schema: %v", err), nil, nil
	}
	var schema domain.ContentSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return toolError("Invalid schema: %v", err), nil, nil
	}

	suggestions, err := t.Skill.SuggestImprovements(ctx, &schema)
	if err != nil {
		return toolError("Failed to get suggestions: %v", err), nil, nil
	}
	return toolJSON(suggestions)
}

func (t *Tools) Generate(ctx context.Context, _ *mcp.CallToolRequest, input GenerateInput) (*mcp.CallToolResult, any, error) {
	schema, err := t.Skill.GenerateSchema(ctx, input.Description, input.Profession)
	if err != nil {
		return toolError("Failed to generate schema: %v", err), nil, nil
	}
	return toolJSON(schema)
}

// --- Helpers ---

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
