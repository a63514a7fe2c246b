// Package inmemory provides an in-process vector driver with brute-force
// cosine similarity. Suitable for tests and single-node development; the
// qdrant and sqlitevec drivers are the production paths.
package inmemory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/vector"
)

// Driver implements vector.Driver using in-process data structures.
type Driver struct {
	mu sync.RWMutex

	// docs maps scopeHash -> id -> document.
	docs map[string]map[string]vector.Document

	// order preserves insertion order per scope for stable listing.
	order map[string][]string
}

// NewDriver creates an in-memory vector driver.
func NewDriver() *Driver {
	return &Driver{
		docs:  make(map[string]map[string]vector.Document),
		order: make(map[string][]string),
	}
}

// Upsert stores documents, replacing any with the same ID.
func (d *Driver) Upsert(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		scoped, ok := d.docs[doc.ScopeHash]
		if !ok {
			scoped = make(map[string]vector.Document)
			d.docs[doc.ScopeHash] = scoped
		}
		if _, exists := scoped[doc.ID]; !exists {
			d.order[doc.ScopeHash] = append(d.order[doc.ScopeHash], doc.ID)
		}
		copied := doc
		copied.Record = doc.Record.Clone()
		scoped[doc.ID] = copied
	}

	return nil
}

// UpdatePayload replaces the stored record without touching the embedding.
func (d *Driver) UpdatePayload(_ context.Context, scopeHash, id string, rec *record.MemoryRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	scoped, ok := d.docs[scopeHash]
	if !ok {
		return vector.ErrNotFound
	}
	doc, ok := scoped[id]
	if !ok {
		return vector.ErrNotFound
	}
	doc.Record = rec.Clone()
	scoped[id] = doc

	return nil
}

// Query scores every document in the scope by cosine similarity.
func (d *Driver) Query(_ context.Context, scopeHash string, embedding []float32, topK int, f vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var results []vector.QueryResult
	for _, doc := range d.docs[scopeHash] {
		if !f.Matches(doc.Record) {
			continue
		}
		score := cosine(embedding, doc.Embedding)
		copied := doc
		copied.Record = doc.Record.Clone()
		results = append(results, vector.QueryResult{Document: copied, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Get retrieves documents by ID; unknown IDs are skipped.
func (d *Driver) Get(_ context.Context, scopeHash string, ids []string) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	scoped := d.docs[scopeHash]
	var out []vector.Document
	for _, id := range ids {
		if doc, ok := scoped[id]; ok {
			copied := doc
			copied.Record = doc.Record.Clone()
			out = append(out, copied)
		}
	}

	return out, nil
}

// List pages through a scope newest-first. The cursor is the ID of the
// last record of the previous page.
func (d *Driver) List(_ context.Context, scopeHash string, cursor string, limit int, f vector.Filter) ([]vector.Document, string, error) {
	if limit <= 0 {
		limit = 100
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	scoped := d.docs[scopeHash]

	// Walk newest first; the cursor is the last ID of the previous page.
	newest := make([]string, 0, len(d.order[scopeHash]))
	for i := len(d.order[scopeHash]) - 1; i >= 0; i-- {
		newest = append(newest, d.order[scopeHash][i])
	}

	start := 0
	if cursor != "" {
		for i, id := range newest {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}

	var out []vector.Document
	var next string
	for _, id := range newest[start:] {
		doc, ok := scoped[id]
		if !ok || !f.Matches(doc.Record) {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		copied := doc
		copied.Record = doc.Record.Clone()
		out = append(out, copied)
	}

	return out, next, nil
}

// Delete removes documents by ID.
func (d *Driver) Delete(_ context.Context, scopeHash string, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	scoped := d.docs[scopeHash]
	for _, id := range ids {
		delete(scoped, id)
	}
	order := d.order[scopeHash][:0]
	for _, id := range d.order[scopeHash] {
		if _, ok := scoped[id]; ok {
			order = append(order, id)
		}
	}
	d.order[scopeHash] = order

	return nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Clamp into [0, 1]; negative similarity is as good as unrelated.
	if sim < 0 {
		return 0
	}
	return float32(sim)
}
