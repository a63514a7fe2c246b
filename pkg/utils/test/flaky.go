package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/vector"
)

// FlakyGraph wraps a graph driver with a toggleable outage.
type FlakyGraph struct {
	Inner graph.Driver

	mu   sync.Mutex
	down bool
}

func NewFlakyGraph(inner graph.Driver) *FlakyGraph {
	return &FlakyGraph{Inner: inner}
}

// SetDown toggles the simulated outage.
func (f *FlakyGraph) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *FlakyGraph) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("%w: simulated outage", graph.ErrConnection)
	}
	return nil
}

func (f *FlakyGraph) MergeEntity(ctx context.Context, scopeHash, name string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.MergeEntity(ctx, scopeHash, name)
}

func (f *FlakyGraph) MergeMention(ctx context.Context, scopeHash, entity, recordID string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.MergeMention(ctx, scopeHash, entity, recordID)
}

func (f *FlakyGraph) MergeRelation(ctx context.Context, scopeHash string, rel record.Relation, recordID string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.MergeRelation(ctx, scopeHash, rel, recordID)
}

func (f *FlakyGraph) DetachRecord(ctx context.Context, scopeHash, recordID string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.DetachRecord(ctx, scopeHash, recordID)
}

func (f *FlakyGraph) Search(ctx context.Context, scopeHash string, terms []string, topK int) ([]graph.Result, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Inner.Search(ctx, scopeHash, terms, topK)
}

func (f *FlakyGraph) Neighborhood(ctx context.Context, scopeHash, entity string, maxHops int) ([]graph.Neighbor, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Inner.Neighborhood(ctx, scopeHash, entity, maxHops)
}

func (f *FlakyGraph) EntityRelationships(ctx context.Context, scopeHash, entity string) (*graph.EntityRelationships, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Inner.EntityRelationships(ctx, scopeHash, entity)
}

func (f *FlakyGraph) Close() error {
	return f.Inner.Close()
}

// FlakyVector wraps a vector driver with a toggleable outage.
type FlakyVector struct {
	Inner vector.Driver

	mu   sync.Mutex
	down bool
}

func NewFlakyVector(inner vector.Driver) *FlakyVector {
	return &FlakyVector{Inner: inner}
}

// SetDown toggles the simulated outage.
func (f *FlakyVector) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *FlakyVector) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("%w: simulated outage", vector.ErrConnection)
	}
	return nil
}

func (f *FlakyVector) Upsert(ctx context.Context, docs []vector.Document) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.Upsert(ctx, docs)
}

func (f *FlakyVector) UpdatePayload(ctx context.Context, scopeHash, id string, rec *record.MemoryRecord) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.UpdatePayload(ctx, scopeHash, id, rec)
}

func (f *FlakyVector) Query(ctx context.Context, scopeHash string, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Inner.Query(ctx, scopeHash, embedding, topK, filter)
}

func (f *FlakyVector) Get(ctx context.Context, scopeHash string, ids []string) ([]vector.Document, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Inner.Get(ctx, scopeHash, ids)
}

func (f *FlakyVector) List(ctx context.Context, scopeHash string, cursor string, limit int, filter vector.Filter) ([]vector.Document, string, error) {
	if err := f.err(); err != nil {
		return nil, "", err
	}
	return f.Inner.List(ctx, scopeHash, cursor, limit, filter)
}

func (f *FlakyVector) Delete(ctx context.Context, scopeHash string, ids []string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Inner.Delete(ctx, scopeHash, ids)
}

func (f *FlakyVector) Close() error {
	return f.Inner.Close()
}
