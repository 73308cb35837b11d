package mapping

import (
	"strings"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

var (
	entitiesDoneWords      = []string{"enough", "done", "next", "continue"}
	relationshipsDoneWords = []string{"done", "finish", "complete", "validate"}
	confirmWords           = []string{"confirm", "yes", "looks good", "perfect"}
)

// transition moves a conversation forward one state when guard holds.
type transition struct {
	to    domain.ConversationState
	guard func(c *domain.ConversationContext, message string) bool
}

// transitions has exactly one outgoing edge per non-terminal state.
var transitions = map[domain.ConversationState]transition{
	domain.StateInitial: {
		to:    domain.StateDiscoveringProfession,
		guard: func(*domain.ConversationContext, string) bool { return true },
	},
	domain.StateDiscoveringProfession: {
		to: domain.StateDiscoveringEntities,
		guard: func(c *domain.ConversationContext, _ string) bool {
			return c.Profession != ""
		},
	},
	domain.StateDiscoveringEntities: {
		to: domain.StateDiscoveringFields,
		guard: func(c *domain.ConversationContext, message string) bool {
			return len(c.DiscoveredEntities) > 0 && containsAny(message, entitiesDoneWords)
		},
	},
	domain.StateDiscoveringFields: {
		to:    domain.StateDiscoveringRelationships,
		guard: func(c *domain.ConversationContext, _ string) bool { return allEntitiesHaveFields(c) },
	},
	domain.StateDiscoveringRelationships: {
		to: domain.StateValidating,
		guard: func(_ *domain.ConversationContext, message string) bool {
			return containsAny(message, relationshipsDoneWords)
		},
	},
	domain.StateValidating: {
		to: domain.StateComplete,
		guard: func(_ *domain.ConversationContext, message string) bool {
			return containsAny(message, confirmWords)
		},
	},
}

// NextState returns the state c moves to after message. It never moves
// backwards and never skips a state. Complete and unknown states are kept.
func NextState(c *domain.ConversationContext, message string) domain.ConversationState {
	t, ok := transitions[c.State]
	if !ok || !t.guard(c, message) {
		return c.State
	}
	return t.to
}

// containsAny reports whether any keyword occurs in message, ignoring case.
// Matching is by substring, so "undone" counts as "done".
func containsAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func allEntitiesHaveFields(c *domain.ConversationContext) bool {
	for _, e := range c.DiscoveredEntities {
		if len(e.Fields) == 0 {
			return false
		}
	}
	return true
}
