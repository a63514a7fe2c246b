// Package vector provides interfaces and implementations for scope-qualified
// vector storage of memory records.
package vector

import (
	"context"

	"github.com/papercomputeco/engram/pkg/record"
)

// Document represents a stored record with its embedding and full payload.
type Document struct {
	// ID is the record's content-addressed fingerprint.
	ID string

	// ScopeHash partitions documents; queries never cross it.
	ScopeHash string

	// Embedding is the vector representation of the record content.
	Embedding []float32

	// Record is the full memory record carried as payload.
	Record *record.MemoryRecord
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the similarity score in [0, 1]; higher = closer.
	Score float32
}

// Filter restricts queries and listings. Zero values mean "no constraint".
type Filter struct {
	// Statuses limits results to records in any of the given statuses.
	Statuses []record.Status

	// Category limits results to a single category.
	Category record.Category

	// MinConfidence drops records below the given confidence.
	MinConfidence int

	// Tag requires the record to carry the given tag.
	Tag string
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(r *record.MemoryRecord) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if r.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.MinConfidence > 0 && r.Confidence < f.MinConfidence {
		return false
	}
	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}
	return true
}

// Driver handles storage and retrieval of record embeddings and payloads.
type Driver interface {
	// Upsert stores documents with their embeddings and payloads. Existing
	// documents with the same ID are replaced.
	Upsert(ctx context.Context, docs []Document) error

	// UpdatePayload replaces the stored record payload without touching the
	// embedding. Used for status flips (conflicted, deprecated, expired).
	UpdatePayload(ctx context.Context, scopeHash, id string, rec *record.MemoryRecord) error

	// Query finds the topK most similar documents within a scope.
	Query(ctx context.Context, scopeHash string, embedding []float32, topK int, f Filter) ([]QueryResult, error)

	// Get retrieves documents by their IDs within a scope. Unknown IDs are
	// skipped, not errors.
	Get(ctx context.Context, scopeHash string, ids []string) ([]Document, error)

	// List pages through all documents in a scope, newest first. The cursor
	// is opaque; an empty returned cursor means the listing is exhausted.
	List(ctx context.Context, scopeHash string, cursor string, limit int, f Filter) ([]Document, string, error)

	// Delete removes documents by their IDs within a scope.
	Delete(ctx context.Context, scopeHash string, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
