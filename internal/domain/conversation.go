package domain

import (
	"time"
)

// ConversationState is a phase of the domain-mapping conversation.
type ConversationState string

// Conversation states, in the only order they may be visited.
const (
	StateInitial                  ConversationState = "initial"
	StateDiscoveringProfession    ConversationState = "discovering_profession"
	StateDiscoveringEntities      ConversationState = "discovering_entities"
	StateDiscoveringFields        ConversationState = "discovering_fields"
	StateDiscoveringRelationships ConversationState = "discovering_relationships"
	StateValidating               ConversationState = "validating"
	StateComplete                 ConversationState = "complete"
)

var stateOrder = []ConversationState{
	StateInitial,
	StateDiscoveringProfession,
	StateDiscoveringEntities,
	StateDiscoveringFields,
	StateDiscoveringRelationships,
	StateValidating,
	StateComplete,
}

// Index returns the position of s in the conversation order, or -1.
func (s ConversationState) Index() int {
	for i, st := range stateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known state.
func (s ConversationState) Valid() bool {
	return s.Index() >= 0
}

// Terminal reports whether s is the final state.
func (s ConversationState) Terminal() bool {
	return s == StateComplete
}

// Role identifies who authored a conversation turn.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the per-session state of a domain-mapping conversation.
type ConversationContext struct {
	SessionID               string            `json:"sessionId"`
	State                   ConversationState `json:"state"`
	Profession              string            `json:"profession,omitempty"`
	PortfolioType           string            `json:"portfolioType,omitempty"`
	DiscoveredEntities      []Entity          `json:"discoveredEntities"`
	DiscoveredRelationships []Relationship    `json:"discoveredRelationships"`
	ConversationHistory     []Message         `json:"conversationHistory"`
	NeedsClarification      []string          `json:"needsClarification"`
	SuggestionsMade         []string          `json:"suggestionsMade"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
}

// NewConversationContext returns an empty context in the initial state.
func NewConversationContext(sessionID string, now time.Time) *ConversationContext {
	return &ConversationContext{
		SessionID:               sessionID,
		State:                   StateInitial,
		DiscoveredEntities:      []Entity{},
		DiscoveredRelationships: []Relationship{},
		ConversationHistory:     []Message{},
		NeedsClarification:      []string{},
		SuggestionsMade:         []string{},
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// AppendMessage records a turn at the end of the history.
func (c *ConversationContext) AppendMessage(role Role, content string) {
	c.ConversationHistory = append(c.ConversationHistory, Message{Role: role, Content: content})
}

// Entity returns the index of the discovered entity with id, or -1.
func (c *ConversationContext) Entity(id string) int {
	for i := range c.DiscoveredEntities {
		if c.DiscoveredEntities[i].ID == id {
			return i
		}
	}
	return -1
}

// HasRelationship reports whether a relationship with id was already discovered.
func (c *ConversationContext) HasRelationship(id string) bool {
	for i := range c.DiscoveredRelationships {
		if c.DiscoveredRelationships[i].ID == id {
			return true
		}
	}
	return false
}

// EntityNames lists discovered entity names in discovery order.
func (c *ConversationContext) EntityNames() []string {
	names := make([]string, 0, len(c.DiscoveredEntities))
	for _, e := range c.DiscoveredEntities {
		names = append(names, e.Name)
	}
	return names
}

// TotalFields counts the fields across all discovered entities.
func (c *ConversationContext) TotalFields() int {
	n := 0
	for _, e := range c.DiscoveredEntities {
		n += len(e.Fields)
	}
	return n
}
