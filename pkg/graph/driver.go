// Package graph provides interfaces and implementations for the scope-
// qualified knowledge graph: entity nodes, typed relation edges, and
// record references. The graph never stores record content: the vector
// store owns payloads, the graph owns structure.
package graph

import (
	"context"

	"github.com/papercomputeco/engram/pkg/record"
)

// Result is a graph search hit: a record implicated by matching entities.
type Result struct {
	// RecordID references the implicated memory record.
	RecordID string

	// Score reflects subgraph proximity in [0, 1]; higher = closer.
	Score float32
}

// Neighbor is a record reached by traversing out from an entity.
type Neighbor struct {
	RecordID string
	Hops     int
}

// EntityRelationships summarizes how one entity sits in the graph.
type EntityRelationships struct {
	Entity             string         `json:"entity"`
	DirectMentions     int            `json:"direct_mentions"`
	RelatedEntities    map[string]int `json:"related_entities"`
	RelationshipTypes  []string       `json:"relationship_types"`
	ConnectionStrength float64        `json:"connection_strength"`
}

// Driver handles storage and traversal of the knowledge graph.
// Entity nodes are deduplicated per scope; mentions and relations carry the
// owning record's ID so DetachRecord can unwind a record's contribution.
type Driver interface {
	// MergeEntity ensures an entity node exists in the scope.
	MergeEntity(ctx context.Context, scopeHash, name string) error

	// MergeMention links a record to an entity it mentions.
	MergeMention(ctx context.Context, scopeHash, entity, recordID string) error

	// MergeRelation ensures a typed edge exists between two entities,
	// attributed to the given record. Endpoints are merged implicitly.
	MergeRelation(ctx context.Context, scopeHash string, rel record.Relation, recordID string) error

	// DetachRecord removes all mentions and relations owned by a record.
	// Entity nodes referenced by other records survive.
	DetachRecord(ctx context.Context, scopeHash, recordID string) error

	// Search matches query terms against entity names and returns the
	// records mentioning them, scored by the fraction of terms matched.
	Search(ctx context.Context, scopeHash string, terms []string, topK int) ([]Result, error)

	// Neighborhood walks relations outward from an entity up to maxHops
	// and returns the records attached to every visited entity.
	Neighborhood(ctx context.Context, scopeHash, entity string, maxHops int) ([]Neighbor, error)

	// EntityRelationships summarizes an entity's mentions, co-entities,
	// and relation types.
	EntityRelationships(ctx context.Context, scopeHash, entity string) (*EntityRelationships, error)

	// Close releases any resources held by the driver.
	Close() error
}
