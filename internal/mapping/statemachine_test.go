package mapping

import (
	"testing"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

func entityWithFields(id string, fields int) domain.Entity {
	e := domain.Entity{ID: id, Name: id, Fields: []domain.Field{}}
	for i := range fields {
		e.Fields = append(e.Fields, domain.Field{ID: id + "-f" + string(rune('a'+i)), Name: "f", Type: domain.FieldText})
	}
	return e
}

func TestNextState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		state    domain.ConversationState
		setup    func(c *domain.ConversationContext)
		message  string
		expected domain.ConversationState
	}{
		{"initial always advances", domain.StateInitial, nil, "hello", domain.StateDiscoveringProfession},
		{"profession unknown stays", domain.StateDiscoveringProfession, nil, "I take photos", domain.StateDiscoveringProfession},
		{
			"profession known advances", domain.StateDiscoveringProfession,
			func(c *domain.ConversationContext) { c.Profession = "photographer" },
			"hi", domain.StateDiscoveringEntities,
		},
		{"entities need at least one entity", domain.StateDiscoveringEntities, nil, "done", domain.StateDiscoveringEntities},
		{
			"entities need a keyword", domain.StateDiscoveringEntities,
			func(c *domain.ConversationContext) { c.DiscoveredEntities = []domain.Entity{entityWithFields("photo", 0)} },
			"what about galleries?", domain.StateDiscoveringEntities,
		},
		{
			"entities keyword is case insensitive", domain.StateDiscoveringEntities,
			func(c *domain.ConversationContext) { c.DiscoveredEntities = []domain.Entity{entityWithFields("photo", 0)} },
			"That's ENOUGH for now", domain.StateDiscoveringFields,
		},
		{
			"entities keyword matches substrings", domain.StateDiscoveringEntities,
			func(c *domain.ConversationContext) { c.DiscoveredEntities = []domain.Entity{entityWithFields("photo", 0)} },
			"it is undone", domain.StateDiscoveringFields,
		},
		{
			"fields wait for every entity", domain.StateDiscoveringFields,
			func(c *domain.ConversationContext) {
				c.DiscoveredEntities = []domain.Entity{entityWithFields("photo", 2), entityWithFields("gallery", 0)}
			},
			"done", domain.StateDiscoveringFields,
		},
		{
			"fields advance when all have fields", domain.StateDiscoveringFields,
			func(c *domain.ConversationContext) {
				c.DiscoveredEntities = []domain.Entity{entityWithFields("photo", 2), entityWithFields("gallery", 1)}
			},
			"anything", domain.StateDiscoveringRelationships,
		},
		{"fields with no entities advance", domain.StateDiscoveringFields, nil, "ok", domain.StateDiscoveringRelationships},
		{"relationships need keyword", domain.StateDiscoveringRelationships, nil, "photos belong to galleries", domain.StateDiscoveringRelationships},
		{"relationships finish", domain.StateDiscoveringRelationships, nil, "I think we can finish", domain.StateValidating},
		{"validating needs confirmation", domain.StateValidating, nil, "change the title", domain.StateValidating},
		{"validating confirms", domain.StateValidating, nil, "Looks good to me", domain.StateComplete},
		{"complete is terminal", domain.StateComplete, nil, "start over, done", domain.StateComplete},
		{"unknown state is kept", domain.ConversationState("bogus"), nil, "done", domain.ConversationState("bogus")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := domain.NewConversationContext("s", testTime)
			c.State = tt.state
			if tt.setup != nil {
				tt.setup(c)
			}
			if got := NextState(c, tt.message); got != tt.expected {
				t.Fatalf("NextState(%s, %q) = %s, want %s", tt.state, tt.message, got, tt.expected)
			}
		})
	}
}

func TestNextStateNeverRegressesOrSkips(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.Profession = "writer"
	c.DiscoveredEntities = []domain.Entity{entityWithFields("book", 1)}

	messages := []string{"hi", "done", "next", "ok", "validate", "perfect", "yes", "done"}
	prev := c.State.Index()
	for _, msg := range messages {
		c.State = NextState(c, msg)
		idx := c.State.Index()
		if idx < prev || idx > prev+1 {
			t.Fatalf("state moved from index %d to %d on %q", prev, idx, msg)
		}
		prev = idx
	}
	if c.State != domain.StateComplete {
		t.Fatalf("expected complete, got %s", c.State)
	}
}
