package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
)

// resolutionSource tags records produced by conflict resolution.
const resolutionSource = "conflict_resolution"

// ResolveRequest is the input to ResolveConflict.
type ResolveRequest struct {
	Scope          scope.Scope `json:"scope"`
	ConflictingIDs []string    `json:"conflicting_ids"`
	CorrectContent string      `json:"correct_content"`
	Reason         string      `json:"reason"`
}

// ResolveConflict writes a consolidated successor and deprecates every
// original. Calling it again with already-deprecated inputs fails with
// ConflictUnresolved.
func (e *Engine) ResolveConflict(ctx context.Context, req ResolveRequest) (*record.MemoryRecord, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}
	if len(req.ConflictingIDs) == 0 {
		return nil, newError(KindInvalidInput, "no conflicting ids given")
	}
	if strings.TrimSpace(req.CorrectContent) == "" {
		return nil, newError(KindInvalidInput, "empty consolidated content")
	}
	if err := e.clusterGuard(); err != nil {
		return nil, err
	}

	scopeHash := req.Scope.Hash()
	lockKey := scope.ResolveLockKey(scopeHash, req.ConflictingIDs)

	// One holder per call, so concurrent resolutions of the same ID set
	// contend instead of re-entering each other's lock.
	holder := uuid.NewString()

	acquired, err := e.ports.Locks.TryAcquire(ctx, lockKey, holder, e.config.LockTTL)
	if err != nil {
		return nil, wrapError(KindLockUnavailable, "acquiring resolve lock", err)
	}
	if !acquired {
		return nil, &Error{Kind: KindContended, Msg: "resolution in progress", ScopeHash: scopeHash}
	}
	defer e.ports.Locks.Release(ctx, lockKey, holder) //nolint:errcheck // TTL reclaims

	// Validate every original: present in this scope and not yet resolved.
	originals := make([]*record.MemoryRecord, 0, len(req.ConflictingIDs))
	for _, id := range req.ConflictingIDs {
		rec, err := e.hydrate(ctx, scopeHash, id)
		if err != nil {
			return nil, &Error{Kind: KindVectorUnavailable, Msg: "loading original", ID: id, ScopeHash: scopeHash, Err: err}
		}
		if rec == nil {
			return nil, &Error{Kind: KindNotFound, Msg: "original not found", ID: id, ScopeHash: scopeHash}
		}
		if rec.Status == record.StatusDeprecated {
			return nil, &Error{Kind: KindConflictUnresolved, Msg: "original already deprecated", ID: id, ScopeHash: scopeHash}
		}
		originals = append(originals, rec)
	}

	// The consolidated content must not fingerprint onto a deprecated
	// record (that would resurrect it), and deprecating the originals must
	// not close a supersession cycle.
	successorID := scope.Fingerprint(req.Scope, req.CorrectContent)
	if existing, err := e.hydrate(ctx, scopeHash, successorID); err == nil && existing != nil {
		if existing.Status == record.StatusDeprecated {
			return nil, &Error{Kind: KindInvalidInput, Msg: "consolidated content matches a deprecated memory", ID: successorID, ScopeHash: scopeHash}
		}
		chain, err := record.WalkSupersession(successorID, func(id string) (*record.MemoryRecord, bool) {
			rec, err := e.hydrate(ctx, scopeHash, id)
			if err != nil || rec == nil {
				return nil, false
			}
			return rec, true
		})
		if err != nil {
			return nil, wrapError(KindInternal, "walking supersession chain", err)
		}
		for _, link := range chain {
			for _, id := range req.ConflictingIDs {
				if link == id {
					return nil, &Error{Kind: KindInvalidInput, Msg: "resolution would create a supersession cycle", ID: successorID, ScopeHash: scopeHash}
				}
			}
		}
	}

	newRec, err := e.writeResolution(ctx, scopeHash, req, originals[0].Category)
	if err != nil {
		return nil, err
	}

	// Deprecate every original that is not itself the successor (resolving
	// to content identical to one original reuses that original's ID).
	for _, orig := range originals {
		if orig.ID == newRec.ID {
			continue
		}

		orig.Status = record.StatusDeprecated
		orig.SupersededBy = newRec.ID
		orig.Version++
		orig.UpdatedAt = e.ports.Clock.Now()

		if err := e.ports.Vector.UpdatePayload(ctx, scopeHash, orig.ID, orig); err != nil {
			e.logger.Warn("deprecating original failed",
				zap.String("id", orig.ID), zap.Error(err))
			continue
		}
		e.cacheRecord(ctx, scopeHash, orig)

		e.publish(ctx, &eventstream.MemoryEvent{
			Topic:     eventstream.TopicMemoryDeprecated,
			ID:        orig.ID,
			ScopeHash: scopeHash,
			Category:  string(orig.Category),
			Extra:     map[string]string{"superseded_by": newRec.ID},
		})
	}

	e.publish(ctx, &eventstream.MemoryEvent{
		Topic:        eventstream.TopicMemoryCreated,
		ID:           newRec.ID,
		ScopeHash:    scopeHash,
		Category:     string(newRec.Category),
		ConflictWith: newRec.ConflictWith,
	})

	e.invalidateScope(ctx, scopeHash)

	return newRec, nil
}

// writeResolution persists the consolidated record. It bypasses conflict
// detection; the successor intentionally overlaps its predecessors.
func (e *Engine) writeResolution(ctx context.Context, scopeHash string, req ResolveRequest, category record.Category) (*record.MemoryRecord, error) {
	id := scope.Fingerprint(req.Scope, req.CorrectContent)

	embedding, extraction, _, err := e.fanout(ctx, req.CorrectContent)
	if err != nil {
		return nil, err
	}

	now := e.ports.Clock.Now()
	rec := &record.MemoryRecord{
		ID:           id,
		Scope:        req.Scope,
		Content:      req.CorrectContent,
		EmbeddingRef: id,
		Entities:     extraction.Entities,
		Relations:    extraction.Relations,
		Category:     category,
		Confidence:   10,
		Source:       resolutionSource,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
		Status:       record.StatusActive,
		ConflictWith: append([]string(nil), req.ConflictingIDs...),
		Extra: map[string]string{
			"resolution_reason": req.Reason,
			"resolved_ids":      strings.Join(req.ConflictingIDs, ","),
		},
	}

	if _, err := e.dualWrite(ctx, scopeHash, id, embedding, rec, extraction); err != nil {
		return nil, err
	}

	e.rememberScope(req.Scope)
	e.cacheRecord(ctx, scopeHash, rec)

	return rec, nil
}
