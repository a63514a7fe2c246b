package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
	"github.com/papercomputeco/engram/pkg/vector"
)

// extraExtractionDegraded marks a record written with an empty graph
// payload because the extractor was unavailable.
const extraExtractionDegraded = "extraction_degraded"

// conflictCandidates bounds the near-duplicate shortlist per write.
const conflictCandidates = 10

// SaveRequest is the input to Save and its variants.
type SaveRequest struct {
	Scope      scope.Scope
	Content    string
	Category   record.Category
	Confidence *int // nil = category default
	Source     string
	Tags       []string
	ExpiresAt  *time.Time
	Extra      map[string]string

	// Milestone-only fields.
	MilestoneType record.MilestoneType
	ImpactLevel   int
}

// ConflictRef names a peer the new record conflicts with.
type ConflictRef struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SaveResult is the outcome of a write.
type SaveResult struct {
	Record    *record.MemoryRecord `json:"record"`
	ID        string               `json:"id"`
	Created   bool                 `json:"created"`
	Status    record.Status        `json:"status"`
	Conflicts []ConflictRef        `json:"conflicts,omitempty"`
	Degraded  bool                 `json:"degraded"`
}

// Save writes one memory to both backends under the per-fingerprint lock.
// Identical (scope, content) pairs are idempotent and return created=false.
func (e *Engine) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if err := e.validateSave(req); err != nil {
		return nil, err
	}
	if err := e.clusterGuard(); err != nil {
		return nil, err
	}

	scopeHash := req.Scope.Hash()
	id := scope.Fingerprint(req.Scope, req.Content)

	// One holder per call: lock re-entrancy must not let two concurrent
	// saves of the same fingerprint from this process interleave.
	holder := uuid.NewString()

	acquired, err := e.ports.Locks.TryAcquire(ctx, scope.WriteLockKey(scopeHash, id), holder, e.config.LockTTL)
	if err != nil {
		return nil, &Error{Kind: KindLockUnavailable, Msg: "acquiring write lock", ID: id, ScopeHash: scopeHash, Err: err}
	}
	if !acquired {
		return nil, &Error{Kind: KindContended, Msg: "write lock busy", ID: id, ScopeHash: scopeHash}
	}
	defer e.ports.Locks.Release(ctx, scope.WriteLockKey(scopeHash, id), holder) //nolint:errcheck // TTL reclaims

	// Idempotency: same fingerprint means same scope and content.
	if existing, err := e.hydrate(ctx, scopeHash, id); err == nil && existing != nil {
		return &SaveResult{
			Record:   existing,
			ID:       id,
			Created:  false,
			Status:   existing.Status,
			Degraded: existing.Extra[extraDegraded] == "true",
		}, nil
	}

	embedding, extraction, extractErr, err := e.fanout(ctx, req.Content)
	if err != nil {
		return nil, err
	}

	now := e.ports.Clock.Now()
	rec := e.buildRecord(req, id, now, extraction, extractErr != nil)

	conflicts := e.detectConflicts(ctx, scopeHash, id, embedding, rec)
	if len(conflicts) > 0 {
		rec.Status = record.StatusConflicted
		for _, c := range conflicts {
			rec.ConflictWith = append(rec.ConflictWith, c.ID)
		}
	}

	degraded, err := e.dualWrite(ctx, scopeHash, id, embedding, rec, extraction)
	if err != nil {
		return nil, err
	}

	e.rememberScope(req.Scope)
	e.cacheRecord(ctx, scopeHash, rec)
	e.flagConflictPeers(ctx, scopeHash, id, conflicts)

	topic := eventstream.TopicMemoryCreated
	if rec.Status == record.StatusConflicted {
		topic = eventstream.TopicMemoryConflicted
	}
	e.publish(ctx, &eventstream.MemoryEvent{
		Topic:        topic,
		ID:           id,
		ScopeHash:    scopeHash,
		Category:     string(rec.Category),
		ConflictWith: rec.ConflictWith,
	})

	e.invalidateScope(ctx, scopeHash)

	return &SaveResult{
		Record:    rec,
		ID:        id,
		Created:   true,
		Status:    rec.Status,
		Conflicts: conflicts,
		Degraded:  degraded,
	}, nil
}

// SaveVerified is Save with a mandatory source and a confidence floor of 7.
func (e *Engine) SaveVerified(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, newError(KindInvalidInput, "verified memories require a source")
	}
	if req.Confidence == nil || *req.Confidence < 7 {
		return nil, newError(KindInvalidInput, "verified memories require confidence >= 7")
	}
	return e.Save(ctx, req)
}

// SaveMilestone writes a milestone record: typed kind, impact level, no
// expiry unless the caller provides one.
func (e *Engine) SaveMilestone(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	req.Category = record.CategoryMilestone
	if err := record.ValidateMilestone(req.MilestoneType, req.ImpactLevel); err != nil {
		return nil, wrapError(KindInvalidInput, "invalid milestone", err)
	}
	return e.Save(ctx, req)
}

func (e *Engine) validateSave(req SaveRequest) error {
	if err := req.Scope.Validate(); err != nil {
		return wrapError(KindInvalidInput, "incomplete scope", err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return wrapError(KindInvalidInput, "empty content", record.ErrEmptyContent)
	}
	if !record.ValidCategory(req.Category) {
		return wrapError(KindInvalidInput, "unknown category "+string(req.Category), record.ErrInvalidCategory)
	}
	if req.Confidence != nil {
		if err := record.ValidateConfidence(*req.Confidence); err != nil {
			return wrapError(KindInvalidInput, "confidence out of range", err)
		}
	}
	return nil
}

// fanout runs the embedder and extractor in parallel. An embedder failure
// aborts the write; an extractor failure degrades to an empty graph payload.
func (e *Engine) fanout(ctx context.Context, content string) ([]float32, *extract.Extraction, error, error) {
	var (
		wg         sync.WaitGroup
		embedding  []float32
		embedErr   error
		extraction *extract.Extraction
		extractErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		callCtx, cancel := e.portCtx(ctx)
		defer cancel()
		embedding, embedErr = e.ports.Embedder.Embed(callCtx, content)
	}()
	go func() {
		defer wg.Done()
		callCtx, cancel := e.portCtx(ctx)
		defer cancel()
		extraction, extractErr = e.ports.Extractor.Extract(callCtx, content)
	}()
	wg.Wait()

	if embedErr != nil {
		return nil, nil, nil, wrapError(KindEmbedderUnavailable, "embedding content", embedErr)
	}
	if extractErr != nil {
		e.logger.Warn("extraction failed, writing with empty graph payload", zap.Error(extractErr))
		extraction = &extract.Extraction{}
	}
	if extraction == nil {
		extraction = &extract.Extraction{}
	}

	return embedding, extraction, extractErr, nil
}

// buildRecord assembles the record with category defaults applied.
func (e *Engine) buildRecord(req SaveRequest, id string, now time.Time, extraction *extract.Extraction, extractionDegraded bool) *record.MemoryRecord {
	confidence := record.DefaultConfidence(req.Category)
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	expires := req.ExpiresAt
	if expires == nil {
		expires = record.DefaultExpiry(req.Category, now)
	}

	extra := make(map[string]string, len(req.Extra)+1)
	for k, v := range req.Extra {
		extra[k] = v
	}
	if extractionDegraded {
		extra[extraExtractionDegraded] = "true"
	}

	return &record.MemoryRecord{
		ID:            id,
		Scope:         req.Scope,
		Content:       req.Content,
		EmbeddingRef:  id,
		Entities:      extraction.Entities,
		Relations:     extraction.Relations,
		Category:      req.Category,
		Confidence:    confidence,
		Source:        req.Source,
		Tags:          req.Tags,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expires,
		Version:       1,
		Status:        record.StatusActive,
		Extra:         extra,
		MilestoneType: req.MilestoneType,
		ImpactLevel:   req.ImpactLevel,
	}
}

// detectConflicts shortlists same-scope same-category near-duplicates above
// τ_conflict and runs the textual contradiction heuristics on each.
// Detection is advisory: failures here never block the write.
func (e *Engine) detectConflicts(ctx context.Context, scopeHash, id string, embedding []float32, rec *record.MemoryRecord) []ConflictRef {
	results, err := e.ports.Vector.Query(ctx, scopeHash, embedding, conflictCandidates, vector.Filter{
		Statuses: []record.Status{record.StatusActive, record.StatusConflicted},
		Category: rec.Category,
	})
	if err != nil {
		e.logger.Warn("conflict detection query failed", zap.Error(err))
		return nil
	}

	var conflicts []ConflictRef
	for _, candidate := range results {
		if candidate.ID == id || candidate.Score < e.config.ConflictSimilarity {
			continue
		}
		check := e.detector.Check(rec.Content, candidate.Record.Content, rec.Tags, candidate.Record.Tags)
		if !check.Conflicting {
			continue
		}
		conflicts = append(conflicts, ConflictRef{ID: candidate.ID, Reason: check.Reason})
	}

	return conflicts
}

// dualWrite upserts the vector entry, then merges the graph payload. A
// single failed leg degrades the write and hands completion to the
// compensation queue; both legs failing is a hard error.
func (e *Engine) dualWrite(ctx context.Context, scopeHash, id string, embedding []float32, rec *record.MemoryRecord, extraction *extract.Extraction) (bool, error) {
	vecErr := e.ports.Vector.Upsert(ctx, []vector.Document{{
		ID:        id,
		ScopeHash: scopeHash,
		Embedding: embedding,
		Record:    rec,
	}})

	graphErr := e.writeGraphLegs(ctx, scopeHash, id, extraction)

	switch {
	case vecErr == nil && graphErr == nil:
		return false, nil

	case vecErr != nil && graphErr != nil:
		return false, &Error{Kind: KindVectorUnavailable, Msg: "both backends failed", ID: id, ScopeHash: scopeHash, Err: vecErr}

	case vecErr != nil && len(extraction.Entities) == 0 && len(extraction.Relations) == 0:
		// Nothing landed anywhere: the graph leg was trivially empty.
		return false, &Error{Kind: KindVectorUnavailable, Msg: "vector upsert failed", ID: id, ScopeHash: scopeHash, Err: vecErr}

	case vecErr != nil:
		e.logger.Warn("vector leg failed, graph leg holds the record",
			zap.String("id", id), zap.Error(vecErr))
		rec.Extra[extraDegraded] = "true"
		e.comp.Enqueue(compensationTask{
			ScopeHash: scopeHash,
			ID:        id,
			Leg:       legVector,
			Embedding: embedding,
		})
		return true, nil

	default: // graphErr != nil
		e.logger.Warn("graph leg failed, enqueueing compensation",
			zap.String("id", id), zap.Error(graphErr))
		rec.Extra[extraDegraded] = "true"
		if err := e.ports.Vector.UpdatePayload(ctx, scopeHash, id, rec); err != nil {
			e.logger.Warn("persisting degraded flag failed", zap.String("id", id), zap.Error(err))
		}
		e.comp.Enqueue(compensationTask{
			ScopeHash: scopeHash,
			ID:        id,
			Leg:       legGraph,
		})
		return true, nil
	}
}

// writeGraphLegs merges entity nodes, mentions, and relation edges. The
// first error aborts; the compensation queue replays the whole payload,
// and merges are idempotent, so partial progress is harmless.
func (e *Engine) writeGraphLegs(ctx context.Context, scopeHash, id string, extraction *extract.Extraction) error {
	for _, entity := range extraction.Entities {
		if err := e.ports.Graph.MergeMention(ctx, scopeHash, entity, id); err != nil {
			return err
		}
	}
	for _, rel := range extraction.Relations {
		if err := e.ports.Graph.MergeRelation(ctx, scopeHash, rel, id); err != nil {
			return err
		}
	}
	return nil
}

// flagConflictPeers runs the advisory second pass: peers the new record
// conflicts with are themselves flipped to conflicted.
func (e *Engine) flagConflictPeers(ctx context.Context, scopeHash, newID string, conflicts []ConflictRef) {
	for _, c := range conflicts {
		peer, err := e.hydrate(ctx, scopeHash, c.ID)
		if err != nil || peer == nil {
			continue
		}

		already := false
		for _, existing := range peer.ConflictWith {
			if existing == newID {
				already = true
				break
			}
		}
		if already && peer.Status == record.StatusConflicted {
			continue
		}

		peer.Status = record.StatusConflicted
		if !already {
			peer.ConflictWith = append(peer.ConflictWith, newID)
		}
		peer.UpdatedAt = e.ports.Clock.Now()

		if err := e.ports.Vector.UpdatePayload(ctx, scopeHash, c.ID, peer); err != nil {
			e.logger.Warn("flagging conflict peer failed",
				zap.String("peer", c.ID), zap.Error(err))
			continue
		}
		e.cacheRecord(ctx, scopeHash, peer)
	}
}
