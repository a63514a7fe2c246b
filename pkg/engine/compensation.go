package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/vector"
)

const (
	compensationWorkers   = 3
	compensationQueueSize = 256
	compensationMaxTries  = 5

	backoffBase = time.Second
	backoffMax  = 60 * time.Second
)

type leg int

const (
	legVector leg = iota
	legGraph
)

// compensationTask is one half-finished dual write awaiting reconciliation.
type compensationTask struct {
	ScopeHash string
	ID        string
	Leg       leg

	// Embedding is carried for vector-leg retries; the payload itself is
	// rehydrated from the per-ID cache.
	Embedding []float32

	Attempt int
}

// compensator drains partial dual-write failures with bounded concurrency
// and exponential backoff. Single producer per record, multiple consumers.
// Workers start with Start; tests drive the queue with runPending instead.
type compensator struct {
	engine *Engine
	logger *zap.Logger

	queue   chan compensationTask
	wg      sync.WaitGroup
	pending atomic.Int64

	mu      sync.Mutex
	closed  bool
	started bool
}

func newCompensator(e *Engine, logger *zap.Logger) *compensator {
	return &compensator{
		engine: e,
		logger: logger,
		queue:  make(chan compensationTask, compensationQueueSize),
	}
}

// Start launches the background workers. Idempotent.
func (c *compensator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	c.wg.Add(compensationWorkers)
	for i := 0; i < compensationWorkers; i++ {
		go c.worker()
	}
}

// Enqueue submits a task. A full queue drops the task: the record stays
// flagged degraded and an operator can re-save it.
func (c *compensator) Enqueue(task compensationTask) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.queue <- task:
		c.pending.Add(1)
		return true
	default:
		c.logger.Error("compensation queue full, task dropped",
			zap.String("id", task.ID),
		)
		return false
	}
}

// Pending returns the number of tasks not yet terminally resolved.
func (c *compensator) Pending() int {
	return int(c.pending.Load())
}

// Close stops the workers and waits for in-flight tasks to finish.
func (c *compensator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
}

// worker pulls tasks off the queue. Failed tasks come back through a timer
// so a wedged backend does not spin the loop.
func (c *compensator) worker() {
	defer c.wg.Done()

	for task := range c.queue {
		c.process(context.Background(), task, true)
	}
}

// process executes one task. On failure the task is retried: immediately
// back onto the queue in synchronous mode, after a backoff delay in
// background mode. The retry budget caps both.
func (c *compensator) process(ctx context.Context, task compensationTask, background bool) {
	err := c.execute(ctx, task)
	if err == nil {
		c.pending.Add(-1)
		return
	}

	task.Attempt++
	if task.Attempt >= compensationMaxTries {
		c.pending.Add(-1)
		c.terminal(ctx, task, err)
		return
	}

	if !background {
		c.requeue(task, err)
		return
	}

	delay := backoff(task.Attempt)
	c.logger.Debug("compensation retry scheduled",
		zap.String("id", task.ID),
		zap.Int("attempt", task.Attempt),
		zap.Duration("delay", delay),
	)

	time.AfterFunc(delay, func() {
		c.requeue(task, err)
	})
}

func (c *compensator) requeue(task compensationTask, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.pending.Add(-1)
		return
	}
	select {
	case c.queue <- task:
	default:
		c.pending.Add(-1)
		c.terminal(context.Background(), task, cause)
	}
}

// execute retries the failed leg using the rehydrated record.
func (c *compensator) execute(ctx context.Context, task compensationTask) error {
	e := c.engine

	rec, err := e.hydrate(ctx, task.ScopeHash, task.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		// Record vanished (deleted while degraded); nothing to reconcile.
		return nil
	}

	switch task.Leg {
	case legGraph:
		extraction := &extract.Extraction{Entities: rec.Entities, Relations: rec.Relations}
		if err := e.writeGraphLegs(ctx, task.ScopeHash, task.ID, extraction); err != nil {
			return err
		}
	case legVector:
		if err := e.ports.Vector.Upsert(ctx, []vector.Document{{
			ID:        task.ID,
			ScopeHash: task.ScopeHash,
			Embedding: task.Embedding,
			Record:    rec,
		}}); err != nil {
			return err
		}
	}

	c.clearDegraded(ctx, task.ScopeHash, rec)
	return nil
}

// clearDegraded removes the degraded marker now that both legs agree.
func (c *compensator) clearDegraded(ctx context.Context, scopeHash string, rec *record.MemoryRecord) {
	if rec.Extra == nil || rec.Extra[extraDegraded] != "true" {
		return
	}
	delete(rec.Extra, extraDegraded)
	rec.UpdatedAt = c.engine.ports.Clock.Now()

	if err := c.engine.ports.Vector.UpdatePayload(ctx, scopeHash, rec.ID, rec); err != nil {
		c.logger.Warn("clearing degraded flag failed",
			zap.String("id", rec.ID), zap.Error(err))
	}
	c.engine.cacheRecord(ctx, scopeHash, rec)
}

// terminal gives up on a task: the record stays degraded and subscribers
// are told.
func (c *compensator) terminal(ctx context.Context, task compensationTask, err error) {
	c.logger.Error("compensation exhausted retries",
		zap.String("id", task.ID),
		zap.Error(err),
	)

	c.engine.publish(ctx, &eventstream.MemoryEvent{
		Topic:     eventstream.TopicCompensationFailed,
		ID:        task.ID,
		ScopeHash: task.ScopeHash,
		Extra:     map[string]string{"error": err.Error()},
	})
}

func backoff(attempt int) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// StartCompensation launches the background compensation workers.
func (e *Engine) StartCompensation() {
	e.comp.Start()
}

// RunCompensation synchronously drains the queue once. Tests use this to
// drive retries deterministically; production relies on the workers.
func (e *Engine) RunCompensation(ctx context.Context) {
	e.comp.runPending(ctx)
}

// CompensationPending reports tasks awaiting reconciliation.
func (e *Engine) CompensationPending() int {
	return e.comp.Pending()
}

func (c *compensator) runPending(ctx context.Context) {
	n := len(c.queue)
	for i := 0; i < n; i++ {
		select {
		case task := <-c.queue:
			c.process(ctx, task, false)
		default:
			return
		}
	}
}
