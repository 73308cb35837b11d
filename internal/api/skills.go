package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/portfolio-skills/internal/domain"
	"github.com/ashureev/portfolio-skills/internal/identity"
	"github.com/ashureev/portfolio-skills/internal/mapping"
)

const (
	defaultMaxRequestBodySize = 1 << 20
	defaultKeepalive          = 10 * time.Second
)

// Skill is the domain-mapping surface served over HTTP.
type Skill interface {
	ProcessTurn(ctx context.Context, req mapping.TurnRequest) (*mapping.TurnResponse, error)
	StreamTurn(ctx context.Context, req mapping.TurnRequest) iter.Seq[mapping.Event]
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	Reset(ctx context.Context, sessionID string) error
	SuggestImprovements(ctx context.Context, schema *domain.ContentSchema) ([]string, error)
	GenerateSchema(ctx context.Context, description, profession string) (*domain.ContentSchema, error)
}

// SkillConfig tunes the skill handler.
type SkillConfig struct {
	MaxRequestBody int64
	SSEKeepalive   time.Duration
}

// SkillHandler serves the domain-mapping endpoints.
type SkillHandler struct {
	skill     Skill
	limiter   *RateLimiter
	maxBody   int64
	keepalive time.Duration
	logger    *slog.Logger
}

// NewSkillHandler creates a handler for skill. limiter may be nil.
func NewSkillHandler(skill Skill, limiter *RateLimiter, cfg SkillConfig, logger *slog.Logger) *SkillHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = defaultMaxRequestBodySize
	}
	if cfg.SSEKeepalive <= 0 {
		cfg.SSEKeepalive = defaultKeepalive
	}
	return &SkillHandler{
		skill:     skill,
		limiter:   limiter,
		maxBody:   cfg.MaxRequestBody,
		keepalive: cfg.SSEKeepalive,
		logger:    logger,
	}
}

// RegisterRoutes registers the skill routes.
func (h *SkillHandler) RegisterRoutes(r chi.Router) {
	r.Route("/skills", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/domain-mapping", h.HandleTurn)
			r.Post("/domain-mapping/suggestions", h.HandleSuggestions)
			r.Post("/domain-mapping-test", h.HandleGenerate)
		})
		r.Get("/domain-mapping/sessions/{sessionID}/history", h.HandleHistory)
		r.Delete("/domain-mapping/sessions/{sessionID}", h.HandleReset)
	})
}

// turnBody accepts both snake_case and camelCase request keys.
type turnBody struct {
	UserMessage      string         `json:"user_message"`
	UserMessageCamel string         `json:"userMessage"`
	SessionID        string         `json:"session_id"`
	SessionIDCamel   string         `json:"sessionId"`
	Context          map[string]any `json:"context"`
	Profession       string         `json:"profession"`
	InitialData      map[string]any `json:"initial_data"`
	InitialDataCamel map[string]any `json:"initialData"`
	Stream           bool           `json:"stream"`
}

var errInvalidSessionID = errors.New("invalid session id")

// turnRequest resolves the session id from the body, then the request hint,
// and otherwise starts a new session.
func (b turnBody) turnRequest(sessionHint, clientID, channel string) (mapping.TurnRequest, error) {
	sid := firstNonEmpty(b.SessionID, b.SessionIDCamel)
	if sid != "" {
		clean, ok := identity.SanitizeSessionID(sid)
		if !ok {
			return mapping.TurnRequest{}, errInvalidSessionID
		}
		sid = clean
	}
	if sid == "" {
		sid = sessionHint
	}
	if sid == "" {
		sid = identity.NewSessionID()
	}

	initial := b.InitialData
	if initial == nil {
		initial = b.InitialDataCamel
	}
	return mapping.TurnRequest{
		UserMessage: firstNonEmpty(b.UserMessage, b.UserMessageCamel),
		SessionID:   sid,
		Context:     b.Context,
		Profession:  b.Profession,
		InitialData: initial,
		Channel:     channel,
		ClientID:    clientID,
	}, nil
}

// turnData is the envelope payload of a buffered turn.
type turnData struct {
	SessionID          string                   `json:"sessionId"`
	Message            string                   `json:"message"`
	SuggestedQuestions []string                 `json:"suggestedQuestions"`
	CurrentState       domain.ConversationState `json:"currentState"`
	NeedsInputOn       []string                 `json:"needsInputOn"`
	Examples           []map[string]any         `json:"examples"`
	ContentSchema      *domain.ContentSchema    `json:"contentSchema"`
	DomainModel        *domain.ContentSchema    `json:"domainModel"`
}

// HandleTurn handles POST /skills/domain-mapping. Requests with ?stream=true,
// "stream": true or Accept: text/event-stream are answered over SSE.
func (h *SkillHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body turnBody
	if status, err := h.decode(w, r, &body); err != nil {
		Failure(w, status, CodeInvalidRequest, err.Error(), nil, map[string]any{"duration": since(start)})
		return
	}

	req, err := body.turnRequest(
		identity.SessionIDFromContext(r.Context()),
		identity.ClientIDFromContext(r.Context()),
		"http",
	)
	if err != nil {
		Failure(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), nil, map[string]any{"duration": since(start)})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		Failure(w, http.StatusBadRequest, CodeInvalidRequest, "user_message is required",
			map[string]any{"session_id": req.SessionID}, map[string]any{"duration": since(start)})
		return
	}
	w.Header().Set(identity.SessionHeaderName, req.SessionID)

	h.logger.Info("Domain mapping request",
		"session_id", req.SessionID,
		"message_length", len(req.UserMessage),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	if body.Stream || wantsStream(r) {
		req.Channel = "sse"
		h.streamTurn(w, r, req)
		return
	}

	resp, err := h.skill.ProcessTurn(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := CodeSkillError
		if errors.Is(err, mapping.ErrInvalidRequest) {
			status, code = http.StatusBadRequest, CodeInvalidRequest
		}
		h.logger.Error("Domain mapping skill failed", "session_id", req.SessionID, "error", err)
		Failure(w, status, code, err.Error(),
			map[string]any{"session_id": req.SessionID}, map[string]any{"duration": since(start)})
		return
	}

	Success(w, turnData{
		SessionID:          req.SessionID,
		Message:            resp.Message,
		SuggestedQuestions: resp.SuggestedQuestions,
		CurrentState:       resp.CurrentState,
		NeedsInputOn:       resp.NeedsInputOn,
		Examples:           resp.Examples,
		ContentSchema:      resp.ContentSchema,
		DomainModel:        resp.ContentSchema,
	}, map[string]any{
		"duration":   since(start),
		"session_id": req.SessionID,
	})
}

func wantsStream(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "true" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamTurn relays turn events as SSE with keepalive pings. The turn runs
// in its own goroutine so pings are sent while the model is thinking.
func (h *SkillHandler) streamTurn(w http.ResponseWriter, r *http.Request, req mapping.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Failure(w, http.StatusInternalServerError, CodeSkillError, "streaming not supported", nil, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	events := make(chan mapping.Event)
	go func() {
		defer close(events)
		for ev := range h.skill.StreamTurn(ctx, req) {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		for range events {
		}
	}()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Domain mapping stream disconnected", "session_id", req.SessionID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("failed to marshal stream event", "error", err)
				return
			}
			if err := writeSSE(w, string(ev.Type), string(data)); err != nil {
				h.logger.Warn("failed to write SSE event", "error", err, "session_id", req.SessionID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "session_id", req.SessionID)
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHistory handles GET /skills/domain-mapping/sessions/{sessionID}/history.
func (h *SkillHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sid, ok := identity.SanitizeSessionID(chi.URLParam(r, "sessionID"))
	if !ok {
		Failure(w, http.StatusBadRequest, CodeInvalidRequest, errInvalidSessionID.Error(), nil, nil)
		return
	}

	history, err := h.skill.History(r.Context(), sid)
	if err != nil {
		h.logger.Error("Failed to load history", "session_id", sid, "error", err)
		Failure(w, http.StatusInternalServerError, CodeSkillError, err.Error(), map[string]any{"session_id": sid}, nil)
		return
	}
	Success(w, map[string]any{
		"sessionId": sid,
		"history":   history,
	}, map[string]any{"duration": since(start), "session_id": sid})
}

// HandleReset handles DELETE /skills/domain-mapping/sessions/{sessionID}.
func (h *SkillHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sid, ok := identity.SanitizeSessionID(chi.URLParam(r, "sessionID"))
	if !ok {
		Failure(w, http.StatusBadRequest, CodeInvalidRequest, errInvalidSessionID.Error(), nil, nil)
		return
	}

	if err := h.skill.Reset(r.Context(), sid); err != nil {
		h.logger.Error("Failed to reset session", "session_id", sid, "error", err)
		Failure(w, http.StatusInternalServerError, CodeSkillError, err.Error(), map[string]any{"session_id": sid}, nil)
		return
	}
	Success(w, map[string]any{
		"sessionId": sid,
		"reset":     true,
	}, map[string]any{"duration": since(start), "session_id": sid})
}

type suggestionsBody struct {
	Schema *domain.ContentSchema `json:"schema"`
}

// HandleSuggestions handles POST /skills/domain-mapping/suggestions. Model
// failures yield an empty suggestion list.
func (h *SkillHandler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body suggestionsBody
	if status, err := h.decode(w, r, &body); err != nil {
		Failure(w, status, CodeInvalidRequest, err.Error(), nil, nil)
		return
	}
	if body.Schema == nil {
		Failure(w, http.StatusBadRequest, CodeInvalidRequest, "schema is required", nil, nil)
		return
	}

	suggestions, err := h.skill.SuggestImprovements(r.Context(), body.Schema)
	if err != nil {
		h.logger.Warn("Error getting suggestions", "error", err)
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	Success(w, map[string]any{"suggestions": suggestions}, map[string]any{"duration": since(start)})
}

type generateBody struct {
	Description string `json:"description"`
	Profession  string `json:"profession"`
}

// HandleGenerate handles POST /skills/domain-mapping-test, generating a
// complete schema from one description without a conversation.
func (h *SkillHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var body generateBody
	if status, err := h.decode(w, r, &body); err != nil {
		Failure(w, status, CodeTestSkillError, err.Error(), nil, map[string]any{"duration": since(start)})
		return
	}

	h.logger.Info("Processing test domain mapping request", "description", truncate(body.Description, 100))
	schema, err := h.skill.GenerateSchema(r.Context(), body.Description, body.Profession)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mapping.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		h.logger.Error("Domain mapping test failed", "error", err)
		Failure(w, status, CodeTestSkillError, err.Error(),
			map[string]any{"description": truncate(body.Description, 200)},
			map[string]any{"duration": since(start)})
		return
	}

	Success(w, map[string]any{
		"contentSchema": schema,
		"domainModel":   schema,
	}, map[string]any{
		"duration":            since(start),
		"test_mode":           true,
		"entities_count":      len(schema.Entities),
		"relationships_count": len(schema.Relationships),
	})
}

// decode reads a size-limited JSON body into v and returns the HTTP status to
// report on failure.
func (h *SkillHandler) decode(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return http.StatusBadRequest, errors.New("request body is empty")
		}
		return http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	return 0, nil
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
