package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

// SystemPrompt is sent with every conversation turn.
const SystemPrompt = `You are a friendly and knowledgeable portfolio structure consultant helping users design their professional portfolio website. Your goal is to guide them through discovering the perfect content structure for their unique needs.

Your approach:
1. Be conversational and encouraging - make this feel like a helpful consultation, not a form
2. Ask one focused question at a time to avoid overwhelming the user
3. Suggest common patterns based on their profession but remain flexible
4. Validate their choices and explain why certain structures work well
5. Use examples to illustrate concepts when helpful
6. Always output valid JSON structures that conform to the ContentSchema format

Key principles:
- Start broad (profession/portfolio type) then narrow down to specifics
- Suggest industry best practices but adapt to unique needs
- Keep technical terms minimal - use plain language
- Validate that relationships between entities make logical sense
- Ensure all required information is gathered before finalizing

Output format:
Your responses should be in JSON format with these fields:
{
  "message": "Your conversational response to the user",
  "suggested_questions": ["List of 2-3 follow-up questions the user might want to ask"],
  "current_state": "The current conversation state",
  "needs_input_on": ["Specific areas requiring user input"],
  "examples": [{"entity": "name", "sample_data": {...}}] // When relevant
}

When you discover or refine entities, include an "entities" array of entity objects (id, name, pluralName, description, fields). When you discover relationships, include a "relationships" array (id, type, from, to, label). Include "profession" and "portfolio_type" once the user has told you about them.

When the schema is complete, include a "schema" field with the full ContentSchema structure.
`

const professionPrompt = `The user is starting to build their portfolio. Help them identify their profession and portfolio type.

Consider these common patterns:
- Creative professionals (designer, artist, photographer)
- Writers and content creators (author, blogger, journalist, poet)
- Technical professionals (developer, data scientist, engineer)
- Business professionals (consultant, marketer, entrepreneur)
- Academic professionals (researcher, professor, teacher)
- Service professionals (therapist, coach, trainer)

Ask about:
1. Their primary profession or field
2. What they want to showcase (work samples, services, achievements, etc.)
3. Their target audience (potential clients, employers, peers, etc.)

Based on their response, suggest an appropriate portfolio structure.`

const continuePrompt = "Continue the conversation based on the current context."

var promptTemplates = template.Must(template.New("prompts").Parse(`
{{- define "entities" -}}
Based on the user being a {{.Profession}} who wants to create a {{.PortfolioType}} portfolio, help them discover what entities (content types) they need.

Common entities for {{.Profession}}:
{{.SuggestedEntities}}

Guide them to think about:
1. Main content they want to showcase
2. Supporting information (about, services, testimonials)
3. How they want to organize their work
4. Any unique requirements for their field

Current entities discovered: {{.CurrentEntities}}

Help them refine and expand this list based on their specific needs.
{{- end -}}

{{- define "fields" -}}
Now help the user define fields for the entity: {{.EntityName}}

This entity is described as: {{.EntityDescription}}

Suggest appropriate fields considering:
1. Essential information (title, description, date, etc.)
2. Media needs (images, documents, videos)
3. Categorization (tags, categories, status)
4. SEO and discoverability (slug, meta description)
5. Relationships to other entities

Common fields for similar entities:
{{.SuggestedFields}}

Current fields defined: {{.CurrentFields}}

Guide them to think about what information is truly necessary vs. nice-to-have.
{{- end -}}

{{- define "relationships" -}}
Help the user define relationships between their entities.

Current entities:
{{.EntitiesList}}

Already defined relationships:
{{.CurrentRelationships}}

Guide them to consider:
1. Which entities naturally connect (e.g., projects have categories, posts have authors)
2. One-to-many vs many-to-many relationships
3. Required vs optional relationships
4. How users will navigate between related content

Suggest logical relationships based on their portfolio structure.

Suggested relationships: {{.Suggestions}}
{{- end -}}

{{- define "validation" -}}
Review and validate the complete portfolio structure with the user.

Generated schema summary:
- Entities: {{.EntitiesSummary}}
- Relationships: {{.RelationshipsSummary}}
- Total fields: {{.TotalFields}}

Check for:
1. Missing essential entities or fields
2. Overly complex structures that could be simplified
3. Logical consistency in relationships
4. Practical usability for content management

Present the schema in a clear, understandable way and ask if they want to adjust anything.
{{- end -}}
`))

// PromptBuilder renders the state-specific instruction sent with each turn.
type PromptBuilder struct {
	catalog *Catalog
}

// NewPromptBuilder returns a builder backed by catalog, or the default catalog when nil.
func NewPromptBuilder(catalog *Catalog) *PromptBuilder {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &PromptBuilder{catalog: catalog}
}

// Build renders the prompt for c's current state. The user's message is
// always appended verbatim at the end.
func (b *PromptBuilder) Build(c *domain.ConversationContext, userMessage string) string {
	return b.body(c) + "\n\nUser said: " + userMessage
}

func (b *PromptBuilder) body(c *domain.ConversationContext) string {
	switch c.State {
	case domain.StateDiscoveringProfession:
		return professionPrompt

	case domain.StateDiscoveringEntities:
		profession := orDefault(c.Profession, "professional")
		tmpl, _ := b.catalog.Profession(profession)
		current := "None yet"
		if names := c.EntityNames(); len(names) > 0 {
			current = strings.Join(names, ", ")
		}
		return render("entities", map[string]any{
			"Profession":        profession,
			"PortfolioType":     orDefault(c.PortfolioType, "portfolio"),
			"SuggestedEntities": indentJSON(orEmpty(tmpl.Entities)),
			"CurrentEntities":   current,
		})

	case domain.StateDiscoveringFields:
		for _, e := range c.DiscoveredEntities {
			if len(e.Fields) > 0 {
				continue
			}
			tmpl, _ := b.catalog.Profession(c.Profession)
			return render("fields", map[string]any{
				"EntityName":        e.Name,
				"EntityDescription": e.Description,
				"SuggestedFields":   indentJSON(orEmpty(tmpl.CommonFields[e.Name])),
				"CurrentFields":     "None yet",
			})
		}

	case domain.StateDiscoveringRelationships:
		names := c.EntityNames()
		current := "None yet"
		if len(c.DiscoveredRelationships) > 0 {
			pairs := make([]string, 0, len(c.DiscoveredRelationships))
			for _, r := range c.DiscoveredRelationships {
				pairs = append(pairs, r.From+" -> "+r.To)
			}
			current = strings.Join(pairs, ", ")
		}
		return render("relationships", map[string]any{
			"EntitiesList":         strings.Join(names, ", "),
			"CurrentRelationships": current,
			"Suggestions":          indentJSON(b.catalog.RelationshipSuggestions(names)),
		})

	case domain.StateValidating:
		return render("validation", map[string]any{
			"EntitiesSummary":      EntitySummary(c.DiscoveredEntities),
			"RelationshipsSummary": RelationshipSummary(c.DiscoveredRelationships),
			"TotalFields":          c.TotalFields(),
		})
	}
	return continuePrompt
}

// EntitySummary renders one line per entity with its field count.
func EntitySummary(entities []domain.Entity) string {
	if len(entities) == 0 {
		return "No entities defined yet"
	}
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		lines = append(lines, fmt.Sprintf("- %s: %s (%d fields)",
			e.Name, orDefault(e.Description, "No description"), len(e.Fields)))
	}
	return strings.Join(lines, "\n")
}

// RelationshipSummary renders one line per relationship.
func RelationshipSummary(relationships []domain.Relationship) string {
	if len(relationships) == 0 {
		return "No relationships defined yet"
	}
	lines := make([]string, 0, len(relationships))
	for _, r := range relationships {
		lines = append(lines, fmt.Sprintf("- %s %s %s: %s",
			r.From, r.Type, r.To, orDefault(r.Label, "related to")))
	}
	return strings.Join(lines, "\n")
}

func render(name string, data any) string {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		panic(fmt.Sprintf("render %s prompt: %v", name, err))
	}
	return buf.String()
}

func indentJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(out)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
