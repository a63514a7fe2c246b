package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/vector"
)

// StartSweeper launches the periodic expiry sweep. Idempotent; tests skip
// it and call SweepNow directly.
func (e *Engine) StartSweeper() {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.sweepStop != nil {
		return
	}

	e.sweepStop = make(chan struct{})
	e.sweepDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(e.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.SweepNow(context.Background())
			}
		}
	}(e.sweepStop, e.sweepDone)
}

// StopSweeper halts the periodic sweep.
func (e *Engine) StopSweeper() {
	e.sweepMu.Lock()
	stop, done := e.sweepStop, e.sweepDone
	e.sweepStop, e.sweepDone = nil, nil
	e.sweepMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// SweepNow flips active and conflicted records whose expiry has passed to
// expired, in every known scope. It is idempotent: records already expired
// drop out of the listing and stay expired. After each scope's pass its
// high-water mark is set to the sweep time; the mark does not narrow the
// next pass, which rescans every active and conflicted record in the scope.
// Expired records are never deleted.
func (e *Engine) SweepNow(ctx context.Context) int {
	now := e.ports.Clock.Now()
	total := 0

	e.scopes.Range(func(key, value any) bool {
		scopeHash := key.(string)
		total += e.sweepScope(ctx, scopeHash, now)

		e.sweepMu.Lock()
		e.sweepMark[scopeHash] = now
		e.sweepMu.Unlock()

		return true
	})

	return total
}

// sweepScope expires overdue active records in one scope.
func (e *Engine) sweepScope(ctx context.Context, scopeHash string, now time.Time) int {
	expired := 0
	cursor := ""

	for {
		docs, next, err := e.ports.Vector.List(ctx, scopeHash, cursor, 200, vector.Filter{
			Statuses: []record.Status{record.StatusActive, record.StatusConflicted},
		})
		if err != nil {
			e.logger.Warn("sweep listing failed",
				zap.String("scope", scopeHash), zap.Error(err))
			return expired
		}

		for _, doc := range docs {
			rec := doc.Record
			if !rec.Expired(now) {
				continue
			}

			rec.Status = record.StatusExpired
			rec.UpdatedAt = now

			if err := e.ports.Vector.UpdatePayload(ctx, scopeHash, rec.ID, rec); err != nil {
				e.logger.Warn("expiring record failed",
					zap.String("id", rec.ID), zap.Error(err))
				continue
			}
			e.cacheRecord(ctx, scopeHash, rec)

			e.publish(ctx, &eventstream.MemoryEvent{
				Topic:     eventstream.TopicMemoryExpired,
				ID:        rec.ID,
				ScopeHash: scopeHash,
				Category:  string(rec.Category),
			})
			expired++
		}

		if next == "" {
			break
		}
		cursor = next
	}

	if expired > 0 {
		e.invalidateScope(ctx, scopeHash)
	}

	return expired
}
