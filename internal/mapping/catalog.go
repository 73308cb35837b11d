package mapping

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed professions.yaml
var defaultCatalogYAML []byte

// SuggestedEntity is a starting-point content type for a profession.
type SuggestedEntity struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// SuggestedField is a starting-point field for a suggested entity.
type SuggestedField struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
}

// ProfessionTemplate is the starting structure offered for one profession.
type ProfessionTemplate struct {
	PortfolioType string                      `yaml:"portfolio_type" json:"portfolio_type"`
	Entities      []SuggestedEntity           `yaml:"entities" json:"entities"`
	CommonFields  map[string][]SuggestedField `yaml:"common_fields" json:"common_fields"`
}

// SuggestedRelationship is a relationship proposed for a pair of entity names.
type SuggestedRelationship struct {
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
	Type  string `yaml:"type" json:"type"`
	Label string `yaml:"label" json:"label"`
}

// RelationshipPattern suggests a relationship once all IfHas entities exist.
type RelationshipPattern struct {
	IfHas   []string              `yaml:"if_has"`
	Suggest SuggestedRelationship `yaml:"suggest"`
}

// Catalog holds profession templates and relationship patterns.
type Catalog struct {
	Professions          map[string]ProfessionTemplate `yaml:"professions"`
	RelationshipPatterns []RelationshipPattern         `yaml:"relationship_patterns"`
}

// ParseCatalog decodes a catalog from YAML. Profession keys are lowercased.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw Catalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		Professions:          make(map[string]ProfessionTemplate, len(raw.Professions)),
		RelationshipPatterns: raw.RelationshipPatterns,
	}
	for name, tmpl := range raw.Professions {
		c.Professions[strings.ToLower(strings.TrimSpace(name))] = tmpl
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

var defaultCatalog = mustParseCatalog(defaultCatalogYAML)

func mustParseCatalog(data []byte) *Catalog {
	c, err := ParseCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Profession looks up a template by case-insensitive profession name.
func (c *Catalog) Profession(name string) (ProfessionTemplate, bool) {
	tmpl, ok := c.Professions[strings.ToLower(strings.TrimSpace(name))]
	return tmpl, ok
}

// RelationshipSuggestions returns the suggestions whose entities are all present.
func (c *Catalog) RelationshipSuggestions(entityNames []string) []SuggestedRelationship {
	suggestions := []SuggestedRelationship{}
	for _, p := range c.RelationshipPatterns {
		all := true
		for _, name := range p.IfHas {
			if !slices.Contains(entityNames, name) {
				all = false
				break
			}
		}
		if all {
			suggestions = append(suggestions, p.Suggest)
		}
	}
	return suggestions
}
