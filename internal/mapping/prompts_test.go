package mapping

import (
	"strings"
	"testing"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

func TestBuildAlwaysEndsWithUserMessage(t *testing.T) {
	t.Parallel()

	b := NewPromptBuilder(nil)
	states := []domain.ConversationState{
		domain.StateInitial,
		domain.StateDiscoveringProfession,
		domain.StateDiscoveringEntities,
		domain.StateDiscoveringFields,
		domain.StateDiscoveringRelationships,
		domain.StateValidating,
		domain.StateComplete,
	}
	for _, st := range states {
		c := domain.NewConversationContext("s", testTime)
		c.State = st
		got := b.Build(c, "my message")
		if !strings.HasSuffix(got, "\n\nUser said: my message") {
			t.Errorf("state %s: prompt does not end with user message: %q", st, got[max(0, len(got)-60):])
		}
	}
}

func TestBuildProfessionPrompt(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringProfession
	got := NewPromptBuilder(nil).Build(c, "hi")
	if !strings.Contains(got, "identify their profession and portfolio type") {
		t.Fatalf("unexpected profession prompt: %q", got)
	}
}

func TestBuildEntitiesPromptUsesTemplate(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringEntities
	c.Profession = "Photographer"
	c.PortfolioType = "Photography Portfolio"

	got := NewPromptBuilder(nil).Build(c, "hi")
	for _, want := range []string{
		"Based on the user being a Photographer who wants to create a Photography Portfolio portfolio",
		`"name": "Photo"`,
		"Current entities discovered: None yet",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildEntitiesPromptUnknownProfession(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringEntities
	c.Profession = "astronaut"
	c.DiscoveredEntities = []domain.Entity{{ID: "mission", Name: "Mission"}}

	got := NewPromptBuilder(nil).Build(c, "hi")
	if !strings.Contains(got, "Common entities for astronaut:\n[]") {
		t.Errorf("expected empty suggestions for unknown profession:\n%s", got)
	}
	if !strings.Contains(got, "Current entities discovered: Mission") {
		t.Errorf("expected current entities:\n%s", got)
	}
}

func TestBuildEntitiesPromptDefaults(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringEntities

	got := NewPromptBuilder(nil).Build(c, "hi")
	if !strings.Contains(got, "a professional who wants to create a portfolio portfolio") {
		t.Errorf("expected defaults in prompt:\n%s", got)
	}
}

func TestBuildFieldsPromptTargetsFirstEntityWithoutFields(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringFields
	c.Profession = "writer"
	c.DiscoveredEntities = []domain.Entity{
		entityWithFields("article", 1),
		{ID: "book", Name: "Book", Description: "Published books"},
	}

	got := NewPromptBuilder(nil).Build(c, "hi")
	for _, want := range []string{
		"define fields for the entity: Book",
		"This entity is described as: Published books",
		`"name": "synopsis"`,
		"Current fields defined: None yet",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildFieldsPromptFallsBackWhenAllHaveFields(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringFields
	c.DiscoveredEntities = []domain.Entity{entityWithFields("book", 1)}

	got := NewPromptBuilder(nil).Build(c, "hi")
	if got != continuePrompt+"\n\nUser said: hi" {
		t.Fatalf("expected continue prompt, got %q", got)
	}
}

func TestBuildRelationshipsPrompt(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateDiscoveringRelationships
	c.DiscoveredEntities = []domain.Entity{{ID: "p", Name: "Project"}, {ID: "c", Name: "Client"}}
	c.DiscoveredRelationships = []domain.Relationship{{ID: "r1", Type: domain.ManyToOne, From: "p", To: "c"}}

	got := NewPromptBuilder(nil).Build(c, "hi")
	for _, want := range []string{
		"Current entities:\nProject, Client",
		"Already defined relationships:\np -> c",
		`"label": "created for"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildValidationPrompt(t *testing.T) {
	t.Parallel()

	c := domain.NewConversationContext("s", testTime)
	c.State = domain.StateValidating
	c.DiscoveredEntities = []domain.Entity{entityWithFields("book", 2), entityWithFields("event", 1)}

	got := NewPromptBuilder(nil).Build(c, "hi")
	for _, want := range []string{
		"- book: No description (2 fields)",
		"- Relationships: No relationships defined yet",
		"- Total fields: 3",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	if got := EntitySummary(nil); got != "No entities defined yet" {
		t.Errorf("EntitySummary(nil) = %q", got)
	}
	if got := RelationshipSummary(nil); got != "No relationships defined yet" {
		t.Errorf("RelationshipSummary(nil) = %q", got)
	}

	rels := []domain.Relationship{
		{ID: "r1", Type: domain.OneToMany, From: "Client", To: "Project", Label: "commissions"},
		{ID: "r2", Type: domain.ManyToMany, From: "Project", To: "Tag"},
	}
	want := "- Client one-to-many Project: commissions\n- Project many-to-many Tag: related to"
	if got := RelationshipSummary(rels); got != want {
		t.Errorf("RelationshipSummary = %q, want %q", got, want)
	}
}

func TestCatalogLookup(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog()
	for _, name := range []string{"writer", "designer", "photographer", "developer", "artist"} {
		if _, ok := cat.Profession(name); !ok {
			t.Errorf("missing template for %s", name)
		}
	}
	if _, ok := cat.Profession("  Designer "); !ok {
		t.Error("expected case-insensitive lookup")
	}
	if _, ok := cat.Profession("astronaut"); ok {
		t.Error("unexpected template for astronaut")
	}

	if got := cat.RelationshipSuggestions(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil suggestions, got %#v", got)
	}
	got := cat.RelationshipSuggestions([]string{"Project", "Client", "Testimonial"})
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %#v", got)
	}
}

func TestParseCatalogRejectsInvalidYAML(t *testing.T) {
	t.Parallel()

	if _, err := ParseCatalog([]byte("professions: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
