package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
	"github.com/papercomputeco/engram/pkg/vector"
)

// SearchFilter restricts retrieval. The quality filter hides deprecated,
// expired, and conflicted records unless the caller opts in.
type SearchFilter struct {
	Category          record.Category `json:"category,omitempty"`
	Tag               string          `json:"tag,omitempty"`
	MinConfidence     int             `json:"min_confidence,omitempty"`
	IncludeConflicted bool            `json:"include_conflicted,omitempty"`
	IncludeDeprecated bool            `json:"include_deprecated,omitempty"`
	IncludeExpired    bool            `json:"include_expired,omitempty"`
}

// statuses renders the filter into the status set backends may return.
func (f SearchFilter) statuses() []record.Status {
	out := []record.Status{record.StatusActive}
	if f.IncludeConflicted {
		out = append(out, record.StatusConflicted)
	}
	if f.IncludeDeprecated {
		out = append(out, record.StatusDeprecated)
	}
	if f.IncludeExpired {
		out = append(out, record.StatusExpired)
	}
	return out
}

func (f SearchFilter) allows(r *record.MemoryRecord) bool {
	switch r.Status {
	case record.StatusDeprecated:
		if !f.IncludeDeprecated {
			return false
		}
	case record.StatusExpired:
		if !f.IncludeExpired {
			return false
		}
	case record.StatusConflicted:
		if !f.IncludeConflicted {
			return false
		}
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}
	if f.MinConfidence > 0 && r.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// SearchRequest is the input to Search and GetContext.
type SearchRequest struct {
	Scope  scope.Scope  `json:"scope"`
	Query  string       `json:"query"`
	K      int          `json:"k,omitempty"`
	Filter SearchFilter `json:"filter,omitempty"`
}

// ScoredMemory is one ranked retrieval hit.
type ScoredMemory struct {
	Record      *record.MemoryRecord `json:"record"`
	Score       float64              `json:"score"`
	VectorScore float64              `json:"vector_score"`
	GraphScore  float64              `json:"graph_score"`
}

// SearchResponse is the ranked, quality-filtered result list.
type SearchResponse struct {
	Results  []ScoredMemory `json:"results"`
	Degraded bool           `json:"degraded"`
}

// Search runs the hybrid retrieval pipeline: cache check, parallel vector
// and graph fanout, rehydration, quality filter, combined ranking.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, newError(KindInvalidInput, "empty query")
	}
	if req.K <= 0 {
		req.K = e.config.DefaultK
	}

	scopeHash := req.Scope.Hash()
	cacheKey := scope.SearchKey(scopeHash, searchCacheHash(req))

	if blob, ok, err := e.ports.Cache.Get(ctx, cacheKey); err == nil && ok {
		var cached SearchResponse
		if err := json.Unmarshal(blob, &cached); err == nil {
			return &cached, nil
		}
	}

	resp, err := e.search(ctx, scopeHash, req)
	if err != nil {
		return nil, err
	}

	if blob, err := json.Marshal(resp); err == nil {
		if err := e.ports.Cache.Set(ctx, cacheKey, blob, e.config.CacheTTL); err != nil {
			e.logger.Debug("search cache set failed", zap.Error(err))
		}
	}

	return resp, nil
}

// GetContext is Search with the accuracy preset: active records only, a
// confidence floor, expired excluded.
func (e *Engine) GetContext(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	req.Filter.IncludeDeprecated = false
	req.Filter.IncludeExpired = false
	req.Filter.IncludeConflicted = false
	if req.Filter.MinConfidence == 0 {
		req.Filter.MinConfidence = e.config.DefaultMinConfidence
	}
	if req.K <= 0 {
		req.K = e.config.DefaultK
	}
	return e.Search(ctx, req)
}

type candidate struct {
	rec         *record.MemoryRecord
	vectorScore float64
	graphScore  float64
}

func (e *Engine) search(ctx context.Context, scopeHash string, req SearchRequest) (*SearchResponse, error) {
	kVec := 2 * req.K
	kGraph := 2 * req.K

	var (
		wg         sync.WaitGroup
		vecResults []vector.QueryResult
		vecErr     error
		graphHits  map[string]float64
		graphErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		callCtx, cancel := e.portCtx(ctx)
		defer cancel()
		vecResults, vecErr = e.vectorPath(callCtx, scopeHash, req, kVec)
	}()
	go func() {
		defer wg.Done()
		callCtx, cancel := e.portCtx(ctx)
		defer cancel()
		graphHits, graphErr = e.graphPath(callCtx, scopeHash, req.Query, kGraph)
	}()
	wg.Wait()

	if vecErr != nil && graphErr != nil {
		return nil, &Error{Kind: KindVectorUnavailable, Msg: "both retrieval paths failed", ScopeHash: scopeHash, Err: vecErr}
	}

	degraded := vecErr != nil || graphErr != nil
	if vecErr != nil {
		e.logger.Warn("vector path failed, returning graph-only results", zap.Error(vecErr))
	}
	if graphErr != nil {
		e.logger.Warn("graph path failed, returning vector-only results", zap.Error(graphErr))
	}

	// Merge and dedup by ID.
	candidates := make(map[string]*candidate)
	for _, r := range vecResults {
		candidates[r.ID] = &candidate{rec: r.Record, vectorScore: float64(r.Score)}
	}
	for id, score := range graphHits {
		if c, ok := candidates[id]; ok {
			if score > c.graphScore {
				c.graphScore = score
			}
			continue
		}
		candidates[id] = &candidate{graphScore: score}
	}

	// Rehydrate graph-only hits.
	var missing []string
	for id, c := range candidates {
		if c.rec == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		docs, err := e.ports.Vector.Get(ctx, scopeHash, missing)
		if err == nil {
			for _, doc := range docs {
				candidates[doc.ID].rec = doc.Record
			}
		}
		for _, id := range missing {
			if candidates[id].rec != nil {
				continue
			}
			if rec, err := e.hydrate(ctx, scopeHash, id); err == nil && rec != nil {
				candidates[id].rec = rec
			}
		}
	}

	now := e.ports.Clock.Now()
	w := e.config.Weights

	results := make([]ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		if c.rec == nil || !req.Filter.allows(c.rec) {
			continue
		}

		ageDays := now.Sub(c.rec.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		freshness := math.Exp(-ageDays / e.config.FreshnessTauDays)

		score := w.Alpha*c.vectorScore +
			w.Beta*c.graphScore +
			w.Gamma*float64(c.rec.Confidence)/10 +
			w.Delta*freshness

		results = append(results, ScoredMemory{
			Record:      c.rec,
			Score:       score,
			VectorScore: c.vectorScore,
			GraphScore:  c.graphScore,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Record.CreatedAt.Equal(results[j].Record.CreatedAt) {
			return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
		}
		return results[i].Record.ID < results[j].Record.ID
	})

	if len(results) > req.K {
		results = results[:req.K]
	}

	return &SearchResponse{Results: results, Degraded: degraded}, nil
}

// vectorPath embeds the query and searches the vector store.
func (e *Engine) vectorPath(ctx context.Context, scopeHash string, req SearchRequest, kVec int) ([]vector.QueryResult, error) {
	embedding, err := e.ports.Embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	return e.ports.Vector.Query(ctx, scopeHash, embedding, kVec, vector.Filter{
		Statuses:      req.Filter.statuses(),
		Category:      req.Filter.Category,
		MinConfidence: req.Filter.MinConfidence,
		Tag:           req.Filter.Tag,
	})
}

// graphPath extracts query terms, walks each term's neighborhood, and runs
// a direct textual match. Hits score by proximity: 1/(1+hops) for
// neighborhood records, the driver's own score for direct matches.
func (e *Engine) graphPath(ctx context.Context, scopeHash, query string, kGraph int) (map[string]float64, error) {
	terms := e.queryTerms(ctx, query)
	if len(terms) == 0 {
		return nil, nil
	}

	hits := make(map[string]float64)

	for _, term := range terms {
		neighbors, err := e.ports.Graph.Neighborhood(ctx, scopeHash, term, e.config.MaxHops)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			score := 1.0 / float64(1+n.Hops)
			if score > hits[n.RecordID] {
				hits[n.RecordID] = score
			}
			if len(hits) >= kGraph {
				break
			}
		}
	}

	direct, err := e.ports.Graph.Search(ctx, scopeHash, terms, kGraph)
	if err != nil {
		return nil, err
	}
	for _, r := range direct {
		if float64(r.Score) > hits[r.RecordID] {
			hits[r.RecordID] = float64(r.Score)
		}
	}

	return hits, nil
}

// queryTerms reuses the extractor on the query text, falling back to the
// query's significant words when extraction yields nothing.
func (e *Engine) queryTerms(ctx context.Context, query string) []string {
	extraction, err := e.ports.Extractor.Extract(ctx, query)
	if err == nil && extraction != nil && len(extraction.Entities) > 0 {
		return extraction.Entities
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) > 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// searchCacheHash canonicalizes the query and filter for the cache key.
func searchCacheHash(req SearchRequest) string {
	blob, _ := json.Marshal(struct {
		Q string       `json:"q"`
		K int          `json:"k"`
		F SearchFilter `json:"f"`
	}{Q: strings.TrimSpace(req.Query), K: req.K, F: req.Filter})
	return scope.QueryHash(string(blob))
}

// Get returns a single record by ID.
func (e *Engine) Get(ctx context.Context, s scope.Scope, id string) (*record.MemoryRecord, error) {
	if err := s.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}

	rec, err := e.hydrate(ctx, s.Hash(), id)
	if err != nil {
		return nil, wrapError(KindVectorUnavailable, "loading record", err)
	}
	if rec == nil {
		return nil, &Error{Kind: KindNotFound, Msg: "no record with that id", ID: id, ScopeHash: s.Hash()}
	}
	return rec, nil
}

// GetAllResponse is one page of a scope enumeration.
type GetAllResponse struct {
	Records []*record.MemoryRecord `json:"records"`
	Cursor  string                 `json:"cursor,omitempty"`
}

// GetAll pages through every record in the scope, newest first.
func (e *Engine) GetAll(ctx context.Context, s scope.Scope, cursor string, limit int) (*GetAllResponse, error) {
	if err := s.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}
	if limit <= 0 {
		limit = 100
	}

	docs, next, err := e.ports.Vector.List(ctx, s.Hash(), cursor, limit, vector.Filter{})
	if err != nil {
		return nil, wrapError(KindVectorUnavailable, "listing records", err)
	}

	records := make([]*record.MemoryRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.Record)
	}

	return &GetAllResponse{Records: records, Cursor: next}, nil
}

// GetEntityRelationships summarizes one entity's graph position.
func (e *Engine) GetEntityRelationships(ctx context.Context, s scope.Scope, entity string) (*graph.EntityRelationships, error) {
	if err := s.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}
	if strings.TrimSpace(entity) == "" {
		return nil, newError(KindInvalidInput, "empty entity name")
	}

	rels, err := e.ports.Graph.EntityRelationships(ctx, s.Hash(), entity)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return nil, &Error{Kind: KindNotFound, Msg: fmt.Sprintf("entity %q not found", entity), ScopeHash: s.Hash()}
		}
		return nil, wrapError(KindGraphUnavailable, "loading entity relationships", err)
	}

	return rels, nil
}
