// Package mapping runs the domain-mapping conversation: it advances the state
// machine, prompts the model, folds the model's replies into the session
// context and assembles the resulting content schema.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/portfolio-skills/internal/convlog"
	"github.com/ashureev/portfolio-skills/internal/domain"
	"github.com/ashureev/portfolio-skills/internal/llm"
	"github.com/ashureev/portfolio-skills/internal/store"
)

// ErrInvalidRequest is returned for turns without a session id or message.
var ErrInvalidRequest = errors.New("invalid turn request")

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7

	suggestMaxTokens    = 1024
	generateMaxTokens   = 8000
	generateTemperature = 0.3
)

const (
	suggestSystemPrompt  = "You are a portfolio structure expert. Provide concise, actionable suggestions."
	generateSystemPrompt = "You are a domain modeling expert. Generate complete, production-ready schemas. Return only valid JSON."
	retryQuestion        = "Can you repeat your last message?"
)

// TurnRequest is one user message in a session.
type TurnRequest struct {
	UserMessage string
	SessionID   string
	// Context overrides context attributes before the state machine runs.
	// Recognized keys are profession, portfolioType and portfolio_type.
	Context     map[string]any
	Profession  string
	InitialData map[string]any
	// Channel names the transport in the conversation log.
	Channel  string
	ClientID string
}

// TurnResponse is the buffered result of a turn.
type TurnResponse struct {
	Message            string                   `json:"message"`
	SuggestedQuestions []string                 `json:"suggestedQuestions"`
	CurrentState       domain.ConversationState `json:"currentState"`
	NeedsInputOn       []string                 `json:"needsInputOn,omitempty"`
	Examples           []map[string]any         `json:"examples,omitempty"`
	ContentSchema      *domain.ContentSchema    `json:"contentSchema,omitempty"`
}

// Skill is the domain-mapping orchestrator. It is safe for concurrent use;
// turns for the same session are serialized.
type Skill struct {
	store       store.ContextStore
	gateway     llm.Gateway
	prompts     *PromptBuilder
	logger      *slog.Logger
	convlog     convlog.Logger
	locks       *sessionLocks
	now         func() time.Time
	maxTokens   int
	temperature float64
}

// Option configures a Skill.
type Option func(*Skill)

// WithCatalog replaces the built-in profession templates.
func WithCatalog(c *Catalog) Option {
	return func(s *Skill) { s.prompts = NewPromptBuilder(c) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Skill) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConversationLog records every turn to l.
func WithConversationLog(l convlog.Logger) Option {
	return func(s *Skill) {
		if l != nil {
			s.convlog = l
		}
	}
}

// WithTurnLimits sets the token budget and temperature of conversation turns.
func WithTurnLimits(maxTokens int, temperature float64) Option {
	return func(s *Skill) {
		if maxTokens > 0 {
			s.maxTokens = maxTokens
		}
		if temperature >= 0 {
			s.temperature = temperature
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Skill) { s.now = now }
}

// New returns a Skill backed by st and gw.
func New(st store.ContextStore, gw llm.Gateway, opts ...Option) *Skill {
	s := &Skill{
		store:       st,
		gateway:     gw,
		prompts:     NewPromptBuilder(nil),
		logger:      slog.Default(),
		convlog:     convlog.Noop{},
		locks:       newSessionLocks(),
		now:         time.Now,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// turn carries one in-flight turn from begin to commit.
type turn struct {
	req       TurnRequest
	conv      *domain.ConversationContext
	prevState domain.ConversationState
	llmReq    llm.Request
	started   time.Time
}

func validate(req TurnRequest) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return fmt.Errorf("%w: user message is required", ErrInvalidRequest)
	}
	return nil
}

// begin loads the session, records the user message, advances the state
// machine and builds the model request.
func (s *Skill) begin(ctx context.Context, req TurnRequest) (*turn, error) {
	c, err := s.store.Get(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		c, err = s.store.Create(ctx, req.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	t := &turn{req: req, conv: c, prevState: c.State, started: s.now()}
	applyOverrides(c, req)

	prior := toLLMHistory(c.ConversationHistory)
	c.AppendMessage(domain.RoleUser, req.UserMessage)
	c.State = NextState(c, req.UserMessage)

	t.llmReq = llm.Request{
		System:      SystemPrompt,
		History:     prior,
		Prompt:      s.prompts.Build(c, req.UserMessage),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	s.logTurn(req, c.State, convlog.DirectionInbound, "user_message", req.UserMessage, nil)
	return t, nil
}

// commit interprets raw, merges it and persists the context. The schema is
// returned once the conversation is complete.
func (s *Skill) commit(ctx context.Context, t *turn, raw string) (Reply, *domain.ContentSchema, error) {
	reply := Interpret(raw)
	if !reply.Parsed {
		s.logger.Debug("Model output was not structured", "session_id", t.req.SessionID, "state", t.conv.State)
	}
	Merge(t.conv, reply)

	var schema *domain.ContentSchema
	now := s.now()
	if t.conv.State == domain.StateComplete {
		schema = Assemble(t.conv, now)
	}
	t.conv.UpdatedAt = now

	// Completed turns are persisted even when the caller has gone away.
	if err := s.store.Put(context.WithoutCancel(ctx), t.conv); err != nil {
		return reply, nil, fmt.Errorf("save session: %w", err)
	}

	s.logTurn(t.req, t.conv.State, convlog.DirectionOutbound, "assistant_reply", raw, map[string]any{
		"parsed":      reply.Parsed,
		"prev_state":  t.prevState,
		"duration_ms": now.Sub(t.started).Milliseconds(),
	})
	s.logger.Info("Turn completed",
		"session_id", t.req.SessionID,
		"state", t.conv.State,
		"prev_state", t.prevState,
		"duration", now.Sub(t.started),
		"backend", s.gateway.Name(),
	)
	return reply, schema, nil
}

// ProcessTurn runs one buffered turn. Gateway failures produce an apologetic
// response and leave the session unchanged. Only invalid requests and store
// failures are returned as errors.
func (s *Skill) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	release, err := s.locks.acquire(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	t, err := s.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, err := s.gateway.Complete(ctx, t.llmReq)
	if err != nil {
		s.logger.Error("Model invocation failed", "session_id", req.SessionID, "backend", s.gateway.Name(), "error", err)
		return degraded(err, t.prevState), nil
	}

	reply, schema, err := s.commit(ctx, t, raw)
	if err != nil {
		return nil, err
	}
	return &TurnResponse{
		Message:            reply.Message,
		SuggestedQuestions: reply.SuggestedQuestions,
		CurrentState:       t.conv.State,
		NeedsInputOn:       reply.NeedsInputOn,
		Examples:           reply.Examples,
		ContentSchema:      schema,
	}, nil
}

// StreamTurn runs one turn and yields its events. Model text arrives as
// message events, followed by exactly one state change, the schema once the
// conversation is complete, and a final complete event. Nothing is merged
// if the consumer stops early.
func (s *Skill) StreamTurn(ctx context.Context, req TurnRequest) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		em := &emitter{yield: yield, now: s.now}

		if err := validate(req); err != nil {
			em.message(apology(err))
			em.finish(domain.StateInitial, nil, nil)
			return
		}

		release, err := s.locks.acquire(ctx, req.SessionID)
		if err != nil {
			em.message(apology(err))
			em.finish(s.currentState(ctx, req.SessionID), nil, nil)
			return
		}
		defer release()

		t, err := s.begin(ctx, req)
		if err != nil {
			s.logger.Error("Failed to start turn", "session_id", req.SessionID, "error", err)
			em.message(apology(err))
			em.finish(s.currentState(ctx, req.SessionID), nil, nil)
			return
		}

		var buf strings.Builder
		chunks := 0
		for chunk, err := range s.gateway.Stream(ctx, t.llmReq) {
			if err != nil {
				s.logger.Error("Model stream failed", "session_id", req.SessionID, "backend", s.gateway.Name(), "chunks", chunks, "error", err)
				em.message(apology(err))
				em.finish(t.prevState, nil, nil)
				return
			}
			buf.WriteString(chunk)
			chunks++
			if !em.message(chunk) {
				s.logger.Info("Stream consumer stopped", "session_id", req.SessionID, "chunks", chunks)
				return
			}
		}

		reply, schema, err := s.commit(ctx, t, buf.String())
		if err != nil {
			s.logger.Error("Failed to save turn", "session_id", req.SessionID, "error", err)
			em.message(apology(err))
			em.finish(t.prevState, nil, nil)
			return
		}

		summary := map[string]any{"suggestedQuestions": reply.SuggestedQuestions}
		if reply.NeedsInputOn != nil {
			summary["needsInputOn"] = reply.NeedsInputOn
		}
		if len(reply.Examples) > 0 {
			summary["examples"] = reply.Examples
		}
		em.finish(t.conv.State, schema, summary)
	}
}

// History returns the ordered turns of a session, or an empty list for an
// unknown session.
func (s *Skill) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	c, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return c.ConversationHistory, nil
}

// Reset discards the session. It waits for an in-flight turn on the same
// session to finish.
func (s *Skill) Reset(ctx context.Context, sessionID string) error {
	release, err := s.locks.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	s.logger.Info("Session reset", "session_id", sessionID)
	return nil
}

// Gateway returns the model backend the skill talks to.
func (s *Skill) Gateway() llm.Gateway {
	return s.gateway
}

// SuggestImprovements asks the model to review schema. Output that is not a
// JSON array of strings yields an empty list. Gateway failures are returned
// together with an empty list.
func (s *Skill) SuggestImprovements(ctx context.Context, schema *domain.ContentSchema) ([]string, error) {
	body, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return []string{}, fmt.Errorf("encode schema: %w", err)
	}

	raw, err := s.gateway.Complete(ctx, llm.Request{
		System:      suggestSystemPrompt,
		Prompt:      fmt.Sprintf(suggestPrompt, body),
		MaxTokens:   suggestMaxTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		s.logger.Error("Error getting suggestions", "backend", s.gateway.Name(), "error", err)
		return []string{}, err
	}

	var suggestions []string
	if err := json.Unmarshal([]byte(extractFenced(raw)), &suggestions); err != nil {
		s.logger.Warn("Suggestions were not a JSON array", "error", err)
		return []string{}, nil
	}
	return slices.DeleteFunc(suggestions, func(q string) bool { return strings.TrimSpace(q) == "" }), nil
}

// GenerateSchema asks the model for a complete schema in one shot.
func (s *Skill) GenerateSchema(ctx context.Context, description, profession string) (*domain.ContentSchema, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}

	professionLine := ""
	if profession != "" {
		professionLine = "PROFESSION: " + profession
	}
	now := s.now().UTC().Format(time.RFC3339)
	prompt := strings.NewReplacer(
		"{{description}}", description,
		"{{profession}}", professionLine,
		"{{now}}", now,
	).Replace(generatePrompt)

	started := s.now()
	raw, err := s.gateway.Complete(ctx, llm.Request{
		System:      generateSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   generateMaxTokens,
		Temperature: generateTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate schema: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(extractFenced(raw)))
	var schema domain.ContentSchema
	if err := dec.Decode(&schema); err != nil {
		return nil, fmt.Errorf("%w: decode generated schema: %v", domain.ErrInvalidSchema, err)
	}
	if schema.Version == "" {
		schema.Version = domain.SchemaVersion
	}
	if schema.Entities == nil {
		schema.Entities = []domain.Entity{}
	}
	if schema.Relationships == nil {
		schema.Relationships = []domain.Relationship{}
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	s.logger.Info("Generated schema",
		"entities", len(schema.Entities),
		"relationships", len(schema.Relationships),
		"duration", s.now().Sub(started),
		"backend", s.gateway.Name(),
	)
	return &schema, nil
}

func (s *Skill) currentState(ctx context.Context, sessionID string) domain.ConversationState {
	c, err := s.store.Get(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return domain.StateInitial
	}
	return c.State
}

func (s *Skill) logTurn(req TurnRequest, state domain.ConversationState, direction, eventType, raw string, meta map[string]any) {
	s.convlog.Log(convlog.Entry{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		SessionID:  req.SessionID,
		ClientID:   req.ClientID,
		Channel:    orDefault(req.Channel, "direct"),
		Direction:  direction,
		EventType:  eventType,
		State:      string(state),
		ContentRaw: raw,
		Content:    convlog.Clean(raw),
		Meta:       meta,
	})
}

func applyOverrides(c *domain.ConversationContext, req TurnRequest) {
	if req.Profession != "" {
		c.Profession = req.Profession
	}
	for key, value := range req.Context {
		str, ok := value.(string)
		if !ok {
			continue
		}
		switch key {
		case "profession":
			c.Profession = str
		case "portfolioType", "portfolio_type":
			c.PortfolioType = str
		}
	}
}

func toLLMHistory(history []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func degraded(err error, state domain.ConversationState) *TurnResponse {
	return &TurnResponse{
		Message:            apology(err),
		SuggestedQuestions: []string{retryQuestion},
		CurrentState:       state,
	}
}

func apology(err error) string {
	return fmt.Sprintf("I encountered an error: %v. Let's try again.", err)
}

// extractFenced returns the body of the first ```json or ``` fence in raw,
// or the trimmed text when there is none.
func extractFenced(raw string) string {
	if start := strings.Index(raw, "```json"); start != -1 {
		return strings.TrimSpace(fenceBody(raw[start+len("```json"):]))
	}
	if start := strings.Index(raw, "```"); start != -1 {
		return strings.TrimSpace(fenceBody(raw[start+3:]))
	}
	return strings.TrimSpace(raw)
}

const suggestPrompt = `Review this portfolio schema and suggest improvements:

%s

Suggest 3-5 specific improvements that would make this schema more effective.
Focus on:
1. Missing essential fields or entities
2. Relationships that could improve navigation
3. Data organization improvements
4. SEO and discoverability enhancements

Return as a JSON array of suggestion strings.`

const generatePrompt = `You are a domain modeling expert. Generate a complete, production-ready content schema for this portfolio/website:

DESCRIPTION:
{{description}}

{{profession}}

TASK: Return a complete JSON schema with entities, fields, and relationships. Be comprehensive and specific.

REQUIREMENTS:
1. Identify 3-7 main entities (content types) based on the description
2. Each entity must have 5-15 relevant fields with proper types
3. Define relationships between entities (one-to-many, many-to-many, etc.)
4. Use generic field types: text, textarea, richtext, number, date, image, gallery, select, relation, etc.
5. Include validation rules and help text where appropriate
6. Make it production-ready - not placeholder or example data

Return ONLY valid JSON in this exact format:
{
  "version": "1.0.0",
  "entities": [
    {
      "id": "entity-id",
      "name": "EntityName",
      "pluralName": "EntityNames",
      "description": "Description of what this entity represents",
      "displayField": "title",
      "icon": "icon-name",
      "sortable": true,
      "timestamps": true,
      "slugSource": "title",
      "fields": [
        {
          "id": "field-id",
          "name": "fieldName",
          "label": "Field Label",
          "type": "text",
          "required": true,
          "helpText": "Help text",
          "placeholder": "Placeholder text",
          "width": "full",
          "options": {
            "minLength": 3,
            "maxLength": 200
          },
          "validation": {
            "required": true
          }
        }
      ]
    }
  ],
  "relationships": [
    {
      "id": "rel-id",
      "type": "one-to-many",
      "from": "EntityName",
      "to": "RelatedEntity",
      "label": "has many",
      "inversLabel": "belongs to",
      "required": false,
      "cascadeDelete": false
    }
  ],
  "metadata": {
    "name": "Portfolio Schema",
    "description": "Schema description",
    "author": "Domain Mapping Test",
    "createdAt": "{{now}}",
    "updatedAt": "{{now}}"
  }
}

Generate the schema now. Return ONLY the JSON, no explanation.`
