package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/portfolio-skills/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler runs domain-mapping turns over a WebSocket. Each text
// frame carries one turn request; events are written back as JSON frames.
type WebSocketHandler struct {
	skill     Skill
	limiter   *RateLimiter
	origins   []string
	readLimit int64
	logger    *slog.Logger
}

// NewWebSocketHandler creates a WebSocket handler. allowedOrigins uses the
// same form as the CORS configuration.
func NewWebSocketHandler(skill Skill, limiter *RateLimiter, allowedOrigins []string, readLimit int64, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if readLimit <= 0 {
		readLimit = defaultMaxRequestBodySize
	}
	return &WebSocketHandler{
		skill:     skill,
		limiter:   limiter,
		origins:   originPatterns(allowedOrigins),
		readLimit: readLimit,
		logger:    logger,
	}
}

// wsMessage is a client frame. Type "ping" is answered with "pong"; any
// other frame is a turn.
type wsMessage struct {
	Type string `json:"type"`
	turnBody
}

// wsFrame is a server frame that is not a turn event.
type wsFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "client_id", clientID, "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()
	ws.SetReadLimit(h.readLimit)

	key := clientID
	if key == "" {
		key = identity.IPFromRequest(r)
	}

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket read error", "error", err, "client_id", clientID)
			}
			return
		}
		if typ != websocket.MessageText {
			if err := h.writeJSON(ctx, ws, wsFrame{Type: "error", Content: "text frames only"}); err != nil {
				return
			}
			continue
		}

		next, ok := h.handleFrame(ctx, ws, data, key, clientID, sessionID)
		if !ok {
			return
		}
		sessionID = next
	}
}

// handleFrame processes one client frame and returns the session id to use
// for later frames. It reports false when the connection should be closed.
func (h *WebSocketHandler) handleFrame(ctx context.Context, ws *websocket.Conn, data []byte, key, clientID, sessionID string) (string, bool) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return sessionID, h.writeJSON(ctx, ws, wsFrame{Type: "error", Content: "invalid message"}) == nil
	}
	if msg.Type == "ping" {
		return sessionID, h.writeJSON(ctx, ws, wsFrame{Type: "pong"}) == nil
	}
	if h.limiter != nil && !h.limiter.Allow(key) {
		return sessionID, h.writeJSON(ctx, ws, wsFrame{Type: "error", Content: "rate limit exceeded"}) == nil
	}

	req, err := msg.turnRequest(sessionID, clientID, "websocket")
	if err != nil {
		return sessionID, h.writeJSON(ctx, ws, wsFrame{Type: "error", Content: err.Error()}) == nil
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return sessionID, h.writeJSON(ctx, ws, wsFrame{Type: "error", Content: "user_message is required"}) == nil
	}

	if err := h.writeJSON(ctx, ws, wsFrame{Type: "session", SessionID: req.SessionID}); err != nil {
		return sessionID, false
	}
	for ev := range h.skill.StreamTurn(ctx, req) {
		if err := h.writeJSON(ctx, ws, ev); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "session_id", req.SessionID)
			return req.SessionID, false
		}
	}
	return req.SessionID, true
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// originPatterns converts allowed origins into host patterns for Accept.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		patterns = append(patterns, o)
	}
	return patterns
}
