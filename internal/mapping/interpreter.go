package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

// UnknownState is reported as the model's current state when its output
// could not be interpreted.
const UnknownState = "unknown"

// Reply is the interpreted model output for one turn.
type Reply struct {
	Message            string
	SuggestedQuestions []string
	CurrentState       string
	// NeedsInputOn is nil when the model did not mention it. An empty,
	// non-nil slice clears outstanding clarifications.
	NeedsInputOn  []string
	Examples      []map[string]any
	Profession    *string
	PortfolioType *string
	Entities      []domain.Entity
	Relationships []domain.Relationship
	// Parsed is false when the output was not a valid structured payload.
	// Message then holds the payload's message if one could be read, or the
	// raw text.
	Parsed bool

	payload string
}

// Payload returns the compact JSON recorded in the conversation history.
func (r Reply) Payload() string {
	return r.payload
}

type replyWire struct {
	Message                 *string               `json:"message"`
	SuggestedQuestions      []string              `json:"suggested_questions"`
	SuggestedQuestionsCamel []string              `json:"suggestedQuestions"`
	CurrentState            string                `json:"current_state"`
	CurrentStateCamel       string                `json:"currentState"`
	NeedsInputOn            []string              `json:"needs_input_on"`
	NeedsInputOnCamel       []string              `json:"needsInputOn"`
	Examples                []map[string]any      `json:"examples"`
	Profession              json.RawMessage       `json:"profession"`
	PortfolioType           *string               `json:"portfolio_type"`
	PortfolioTypeCamel      *string               `json:"portfolioType"`
	Entities                []domain.Entity       `json:"entities"`
	Relationships           []domain.Relationship `json:"relationships"`
}

type unparsedPayload struct {
	Message            string   `json:"message"`
	SuggestedQuestions []string `json:"suggested_questions"`
	CurrentState       string   `json:"current_state"`
}

var errTrailingData = errors.New("trailing data after payload")

// Interpret decodes raw model output. Fenced ```json blocks, bare JSON and a
// JSON object embedded in prose are accepted. Anything that fails to decode
// or validate yields an unparsed Reply. Its message is the payload's own
// message when that much can be read, otherwise the raw text.
func Interpret(raw string) Reply {
	candidates := payloadCandidates(raw)
	for _, candidate := range candidates {
		if r, err := decodeReply(candidate); err == nil {
			return r
		}
	}
	for _, candidate := range candidates {
		if msg, ok := decodeMessage(candidate); ok {
			return unparsedReply(msg)
		}
	}
	return unparsedReply(raw)
}

// decodeMessage reads only the message of an otherwise invalid payload.
func decodeMessage(candidate string) (string, bool) {
	if !strings.HasPrefix(candidate, "{") {
		return "", false
	}
	dec := json.NewDecoder(strings.NewReader(candidate))
	var wire struct {
		Message *string `json:"message"`
	}
	if err := dec.Decode(&wire); err != nil {
		return "", false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", false
	}
	if wire.Message == nil || strings.TrimSpace(*wire.Message) == "" {
		return "", false
	}
	return *wire.Message, true
}

func unparsedReply(message string) Reply {
	fallback := unparsedPayload{
		Message:            message,
		SuggestedQuestions: []string{},
		CurrentState:       UnknownState,
	}
	payload, _ := json.Marshal(fallback)
	return Reply{
		Message:            message,
		SuggestedQuestions: []string{},
		CurrentState:       UnknownState,
		payload:            string(payload),
	}
}

func payloadCandidates(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}

	if start := strings.Index(trimmed, "```json"); start != -1 {
		add(fenceBody(trimmed[start+len("```json"):]))
	} else if strings.HasPrefix(trimmed, "```") {
		body := trimmed[3:]
		if nl := strings.Index(body, "\n"); nl != -1 {
			body = body[nl+1:]
		}
		add(fenceBody(body))
	}
	add(trimmed)
	if obj, ok := findJSONObject(trimmed); ok {
		add(obj)
	}
	return out
}

// fenceBody returns s up to the closing fence, or all of s when unterminated.
func fenceBody(s string) string {
	if end := strings.Index(s, "```"); end != -1 {
		return s[:end]
	}
	return s
}

// findJSONObject returns the first balanced {...} in input, skipping braces
// inside string literals.
func findJSONObject(input string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(input); i++ {
		ch := input[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return input[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeReply(candidate string) (Reply, error) {
	if !strings.HasPrefix(candidate, "{") {
		return Reply{}, errors.New("payload is not a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	var wire replyWire
	if err := dec.Decode(&wire); err != nil {
		return Reply{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Reply{}, errTrailingData
	}

	for i := range wire.Entities {
		if err := wire.Entities[i].Validate(); err != nil {
			return Reply{}, err
		}
	}
	for i := range wire.Relationships {
		if err := wire.Relationships[i].Validate(); err != nil {
			return Reply{}, err
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(candidate)); err != nil {
		return Reply{}, err
	}

	r := Reply{
		SuggestedQuestions: firstSlice(wire.SuggestedQuestions, wire.SuggestedQuestionsCamel),
		CurrentState:       firstString(wire.CurrentState, wire.CurrentStateCamel),
		NeedsInputOn:       firstSlice(wire.NeedsInputOn, wire.NeedsInputOnCamel),
		Examples:           wire.Examples,
		PortfolioType:      wire.PortfolioType,
		Entities:           wire.Entities,
		Relationships:      wire.Relationships,
		Parsed:             true,
		payload:            compact.String(),
	}
	if wire.Message != nil {
		r.Message = *wire.Message
	}
	if len(wire.Profession) > 0 {
		profession, err := presentString(wire.Profession)
		if err != nil {
			return Reply{}, err
		}
		r.Profession = &profession
	}
	if r.PortfolioType == nil {
		r.PortfolioType = wire.PortfolioTypeCamel
	}
	if r.SuggestedQuestions == nil {
		r.SuggestedQuestions = []string{}
	}
	return r, nil
}

// Merge folds r into c. The payload is always recorded as an assistant turn.
// Entities replace an existing entity with the same id in place or are
// appended. Relationships whose id is already known are ignored.
func Merge(c *domain.ConversationContext, r Reply) {
	c.AppendMessage(domain.RoleAssistant, r.Payload())

	for _, e := range r.Entities {
		if i := c.Entity(e.ID); i >= 0 {
			c.DiscoveredEntities[i] = e
			continue
		}
		c.DiscoveredEntities = append(c.DiscoveredEntities, e)
	}

	for _, rel := range r.Relationships {
		if c.HasRelationship(rel.ID) {
			continue
		}
		c.DiscoveredRelationships = append(c.DiscoveredRelationships, rel)
	}

	if r.Profession != nil {
		c.Profession = *r.Profession
	}
	if r.PortfolioType != nil {
		c.PortfolioType = *r.PortfolioType
	}
	if r.NeedsInputOn != nil {
		c.NeedsClarification = r.NeedsInputOn
	}

	for _, q := range r.SuggestedQuestions {
		if !slices.Contains(c.SuggestionsMade, q) {
			c.SuggestionsMade = append(c.SuggestionsMade, q)
		}
	}
}

// presentString decodes a key that was present in the payload. An explicit
// null clears the value.
func presentString(raw json.RawMessage) (string, error) {
	if string(raw) == "null" {
		return "", nil
	}
	var s string
	err := json.Unmarshal(raw, &s)
	return s, err
}

func firstSlice(a, b []string) []string {
	if a != nil {
		return a
	}
	return b
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
