package mapping

import (
	"fmt"
	"slices"
	"time"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

// SchemaAuthor is recorded in the metadata of assembled schemas.
const SchemaAuthor = "Domain Mapping Skill"

// Assemble builds a schema snapshot from the discovered entities and
// relationships of c. Relationship endpoints are not checked against the
// entity list. Each call produces fresh timestamps.
func Assemble(c *domain.ConversationContext, now time.Time) *domain.ContentSchema {
	return &domain.ContentSchema{
		Version:       domain.SchemaVersion,
		Entities:      orEmpty(slices.Clone(c.DiscoveredEntities)),
		Relationships: orEmpty(slices.Clone(c.DiscoveredRelationships)),
		Metadata: domain.NewMetadata(
			fmt.Sprintf("%s Portfolio Schema", c.Profession),
			fmt.Sprintf("Content schema for %s", c.PortfolioType),
			SchemaAuthor,
			now,
		),
	}
}
