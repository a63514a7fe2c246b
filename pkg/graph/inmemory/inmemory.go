// Package inmemory provides an in-process graph driver for tests and
// single-node development.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/record"
)

type edge struct {
	src, rel, dst string
	recordID      string
}

type scopeGraph struct {
	// entities maps lowercased name -> canonical name.
	entities map[string]string

	// mentions maps lowercased entity -> set of record IDs.
	mentions map[string]map[string]bool

	// edges are relation triples attributed to records.
	edges []edge
}

// Driver implements graph.Driver using in-process data structures.
type Driver struct {
	mu     sync.RWMutex
	scopes map[string]*scopeGraph
}

// NewDriver creates an in-memory graph driver.
func NewDriver() *Driver {
	return &Driver{scopes: make(map[string]*scopeGraph)}
}

func (d *Driver) scope(scopeHash string) *scopeGraph {
	g, ok := d.scopes[scopeHash]
	if !ok {
		g = &scopeGraph{
			entities: make(map[string]string),
			mentions: make(map[string]map[string]bool),
		}
		d.scopes[scopeHash] = g
	}
	return g
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// MergeEntity ensures an entity node exists.
func (d *Driver) MergeEntity(_ context.Context, scopeHash, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.scope(scopeHash)
	k := key(name)
	if _, ok := g.entities[k]; !ok {
		g.entities[k] = strings.TrimSpace(name)
	}
	return nil
}

// MergeMention links a record to an entity.
func (d *Driver) MergeMention(_ context.Context, scopeHash, entity, recordID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.scope(scopeHash)
	k := key(entity)
	if _, ok := g.entities[k]; !ok {
		g.entities[k] = strings.TrimSpace(entity)
	}
	if g.mentions[k] == nil {
		g.mentions[k] = make(map[string]bool)
	}
	g.mentions[k][recordID] = true
	return nil
}

// MergeRelation ensures a typed edge exists, merging endpoints implicitly.
func (d *Driver) MergeRelation(_ context.Context, scopeHash string, rel record.Relation, recordID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.scope(scopeHash)
	for _, name := range []string{rel.Source, rel.Target} {
		k := key(name)
		if _, ok := g.entities[k]; !ok {
			g.entities[k] = strings.TrimSpace(name)
		}
	}

	e := edge{src: key(rel.Source), rel: rel.Relation, dst: key(rel.Target), recordID: recordID}
	for _, existing := range g.edges {
		if existing == e {
			return nil
		}
	}
	g.edges = append(g.edges, e)
	return nil
}

// DetachRecord removes a record's mentions and relations.
func (d *Driver) DetachRecord(_ context.Context, scopeHash, recordID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := d.scope(scopeHash)
	for _, recs := range g.mentions {
		delete(recs, recordID)
	}
	edges := g.edges[:0]
	for _, e := range g.edges {
		if e.recordID != recordID {
			edges = append(edges, e)
		}
	}
	g.edges = edges
	return nil
}

// Search matches terms against entity names; records score by the fraction
// of terms whose entity mentions them.
func (d *Driver) Search(_ context.Context, scopeHash string, terms []string, topK int) ([]graph.Result, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.scopes[scopeHash]
	if !ok || len(terms) == 0 {
		return nil, nil
	}

	matched := make(map[string]int)
	for _, term := range terms {
		t := key(term)
		for entity, recs := range g.mentions {
			if entity != t && !strings.Contains(entity, t) {
				continue
			}
			for rec := range recs {
				matched[rec]++
			}
		}
	}

	results := make([]graph.Result, 0, len(matched))
	for rec, hits := range matched {
		results = append(results, graph.Result{
			RecordID: rec,
			Score:    float32(hits) / float32(len(terms)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].RecordID < results[j].RecordID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Neighborhood walks relations outward from an entity up to maxHops.
func (d *Driver) Neighborhood(_ context.Context, scopeHash, entity string, maxHops int) ([]graph.Neighbor, error) {
	if maxHops <= 0 {
		maxHops = 2
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.scopes[scopeHash]
	if !ok {
		return nil, nil
	}

	start := key(entity)
	if _, ok := g.entities[start]; !ok {
		return nil, nil
	}

	visited := map[string]int{start: 0}
	frontier := []string{start}
	for hop := 1; hop <= maxHops; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range g.edges {
				var peer string
				switch cur {
				case e.src:
					peer = e.dst
				case e.dst:
					peer = e.src
				default:
					continue
				}
				if _, seen := visited[peer]; !seen {
					visited[peer] = hop
					next = append(next, peer)
				}
			}
		}
		frontier = next
	}

	recordHops := make(map[string]int)
	for ent, hop := range visited {
		for rec := range g.mentions[ent] {
			if existing, ok := recordHops[rec]; !ok || hop < existing {
				recordHops[rec] = hop
			}
		}
	}
	for _, e := range g.edges {
		srcHop, srcOK := visited[e.src]
		dstHop, dstOK := visited[e.dst]
		if !srcOK && !dstOK {
			continue
		}
		hop := srcHop
		if !srcOK || (dstOK && dstHop < hop) {
			hop = dstHop
		}
		if existing, ok := recordHops[e.recordID]; !ok || hop < existing {
			recordHops[e.recordID] = hop
		}
	}

	neighbors := make([]graph.Neighbor, 0, len(recordHops))
	for rec, hop := range recordHops {
		neighbors = append(neighbors, graph.Neighbor{RecordID: rec, Hops: hop})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Hops != neighbors[j].Hops {
			return neighbors[i].Hops < neighbors[j].Hops
		}
		return neighbors[i].RecordID < neighbors[j].RecordID
	})

	return neighbors, nil
}

// EntityRelationships summarizes an entity's graph position.
func (d *Driver) EntityRelationships(_ context.Context, scopeHash, entity string) (*graph.EntityRelationships, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.scopes[scopeHash]
	if !ok {
		return nil, graph.ErrNotFound
	}

	k := key(entity)
	canonical, ok := g.entities[k]
	if !ok {
		return nil, graph.ErrNotFound
	}

	mentions := len(g.mentions[k])
	related := make(map[string]int)
	typeSet := make(map[string]bool)

	for _, e := range g.edges {
		var peer string
		switch k {
		case e.src:
			peer = e.dst
		case e.dst:
			peer = e.src
		default:
			continue
		}
		related[g.entities[peer]]++
		typeSet[e.rel] = true
	}

	// Co-mentions: entities sharing a record with this one.
	for rec := range g.mentions[k] {
		for other, recs := range g.mentions {
			if other == k || !recs[rec] {
				continue
			}
			related[g.entities[other]]++
		}
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	return &graph.EntityRelationships{
		Entity:             canonical,
		DirectMentions:     mentions,
		RelatedEntities:    related,
		RelationshipTypes:  types,
		ConnectionStrength: float64(mentions) / float64(mentions+5),
	}, nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}
