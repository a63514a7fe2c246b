// Package extract provides the entity/relationship extraction port. An
// extractor turns free text into entity names and (source, relation, target)
// triples for the knowledge graph. Extraction failures are non-fatal: a
// memory with an empty graph payload is better than no memory.
package extract

import (
	"context"
	"errors"

	"github.com/papercomputeco/engram/pkg/record"
)

// ErrUnavailable is returned when the extraction backend cannot be reached.
var ErrUnavailable = errors.New("extractor unavailable")

// Extraction is the graph payload pulled out of one piece of text.
type Extraction struct {
	Entities  []string          `json:"entities"`
	Relations []record.Relation `json:"relations"`
}

// Extractor pulls entities and relations from text. Either set may be
// empty; an empty extraction is a valid result, not an error.
type Extractor interface {
	// Extract parses text into entities and relation triples.
	Extract(ctx context.Context, text string) (*Extraction, error)

	// Close releases any resources held by the extractor.
	Close() error
}
