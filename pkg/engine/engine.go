// Package engine implements the memory orchestration core: the dual-write
// coordinator over the vector and graph stores, the hybrid retrieval
// pipeline, the quality/versioning/conflict layer, the expiry sweeper, and
// the compensation queue that reconciles partial dual-write failures.
package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/cache"
	"github.com/papercomputeco/engram/pkg/clock"
	"github.com/papercomputeco/engram/pkg/conflict"
	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/lock"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
	"github.com/papercomputeco/engram/pkg/vector"
)

// extraDegraded marks a record whose graph or vector leg has not caught up.
const extraDegraded = "degraded"

// Weights are the combined-score coefficients for hybrid ranking.
type Weights struct {
	Alpha float64 // vector similarity
	Beta  float64 // graph proximity
	Gamma float64 // confidence
	Delta float64 // freshness
}

// DefaultWeights returns the default ranking coefficients.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.55, Beta: 0.25, Gamma: 0.15, Delta: 0.05}
}

// Config holds the engine's tunables. Zero values resolve to defaults.
type Config struct {
	// ConflictSimilarity is τ_conflict: the vector similarity at or above
	// which two same-category memories are conflict candidates.
	ConflictSimilarity float32

	// Weights are the hybrid ranking coefficients.
	Weights Weights

	// FreshnessTauDays controls freshness decay: exp(-age_days/τ).
	FreshnessTauDays float64

	// CacheTTL bounds cached query results.
	CacheTTL time.Duration

	// LockTTL bounds write locks; it should exceed the write budget.
	LockTTL time.Duration

	// PortBudget caps any single collaborator call. Every port call runs
	// under min(remaining request deadline, PortBudget).
	PortBudget time.Duration

	// SweepInterval is the expiry sweeper period.
	SweepInterval time.Duration

	// DefaultK is the result count when the caller does not specify one.
	DefaultK int

	// DefaultMinConfidence is GetContext's confidence floor.
	DefaultMinConfidence int

	// MaxHops bounds graph neighborhood traversal during retrieval.
	MaxHops int

	// QualityWeights are the audit quality-score coefficients.
	QualityWeights QualityWeights

	// Clustered marks multi-process deployments. When true, the in-process
	// cache/lock fallbacks are not acceptable and requests fail instead.
	Clustered bool
}

func (c Config) withDefaults() Config {
	if c.ConflictSimilarity == 0 {
		c.ConflictSimilarity = 0.85
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.FreshnessTauDays == 0 {
		c.FreshnessTauDays = 30
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 300 * time.Second
	}
	if c.LockTTL == 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.PortBudget == 0 {
		c.PortBudget = 10 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.DefaultK == 0 {
		c.DefaultK = 5
	}
	if c.DefaultMinConfidence == 0 {
		c.DefaultMinConfidence = 7
	}
	if c.MaxHops == 0 {
		c.MaxHops = 2
	}
	if c.QualityWeights == (QualityWeights{}) {
		c.QualityWeights = DefaultQualityWeights()
	}
	return c
}

// Capabilities are the startup capability probe results. Handlers branch
// on these flags rather than on driver types.
type Capabilities struct {
	VectorAvailable  bool `json:"vector_available"`
	GraphAvailable   bool `json:"graph_available"`
	CacheDistributed bool `json:"cache_distributed"`
	EventsDurable    bool `json:"events_durable"`
}

// Ports bundles the external collaborators the engine orchestrates.
type Ports struct {
	Vector    vector.Driver
	Graph     graph.Driver
	Embedder  embeddings.Embedder
	Extractor extract.Extractor
	Cache     cache.Cache
	Events    eventstream.Publisher
	Locks     lock.Manager
	Clock     clock.Clock
}

// Engine is the memory orchestration core. All state lives in the ports;
// the engine itself holds only configuration, the conflict detector, the
// compensation queue, and the sweeper's high-water marks.
type Engine struct {
	ports    Ports
	config   Config
	detector *conflict.Detector
	caps     Capabilities
	logger   *zap.Logger

	comp *compensator

	// scopes tracks every scope seen by a write so the sweeper knows what
	// to visit. Values are the scope structs themselves.
	scopes sync.Map

	// sweepMark is the per-scope high-water mark of the last sweep.
	sweepMu   sync.Mutex
	sweepMark map[string]time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates an engine over the given ports. Background work is opt-in:
// the compensation workers start with StartCompensation and the expiry
// sweeper with StartSweeper; tests drive both synchronously instead.
func New(ports Ports, config Config, detector *conflict.Detector, caps Capabilities, logger *zap.Logger) *Engine {
	if detector == nil {
		detector = conflict.NewDetector()
	}

	e := &Engine{
		ports:     ports,
		config:    config.withDefaults(),
		detector:  detector,
		caps:      caps,
		logger:    logger,
		sweepMark: make(map[string]time.Time),
	}
	e.comp = newCompensator(e, logger)

	return e
}

// Capabilities returns the startup capability probe results.
func (e *Engine) Capabilities() Capabilities {
	return e.caps
}

// Close drains the compensation queue and stops the sweeper.
func (e *Engine) Close() {
	e.StopSweeper()
	e.comp.Close()
}

// clusterGuard rejects mutations when a clustered deployment is running on
// in-process cache/lock fallbacks. A single process may fall back locally;
// two processes doing so would silently drop the serialization guarantee.
func (e *Engine) clusterGuard() error {
	if e.config.Clustered && !e.caps.CacheDistributed {
		return newError(KindLockUnavailable, "clustered deployment requires distributed cache and locks")
	}
	return nil
}

// portCtx bounds one collaborator call to the per-port budget within the
// caller's remaining deadline.
func (e *Engine) portCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.PortBudget)
}

// rememberScope registers a scope for the sweeper.
func (e *Engine) rememberScope(s scope.Scope) {
	e.scopes.Store(s.Hash(), s)
}

// invalidateScope drops the scope's cached search and context results and
// announces it. Per-ID record keys survive: they back degraded reads.
func (e *Engine) invalidateScope(ctx context.Context, scopeHash string) {
	removed := 0
	for _, prefix := range []string{
		scope.CachePrefix(scopeHash) + "search:",
		scope.CachePrefix(scopeHash) + "context:",
	} {
		n, err := e.ports.Cache.InvalidatePrefix(ctx, prefix)
		if err != nil {
			e.logger.Warn("cache invalidation failed",
				zap.String("scope", scopeHash),
				zap.Error(err),
			)
			return
		}
		removed += n
	}
	if removed == 0 {
		return
	}

	e.publish(ctx, &eventstream.MemoryEvent{
		Topic:     eventstream.TopicCacheInvalidated,
		ScopeHash: scopeHash,
		Extra:     map[string]string{"removed": strconv.Itoa(removed)},
	})
}

// publish fills in event envelope fields and sends. Publish failures are
// logged, never surfaced: events are advisory, the stores are the truth.
func (e *Engine) publish(ctx context.Context, event *eventstream.MemoryEvent) {
	event.SchemaVersion = eventstream.SchemaVersionV1
	event.EventID = uuid.NewString()
	event.EmittedAt = e.ports.Clock.Now()

	if err := e.ports.Events.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("topic", event.Topic),
			zap.String("id", event.ID),
			zap.Error(err),
		)
	}
}

// hydrate loads a record by ID: vector payload first, then the per-ID
// cache, which covers records whose vector leg is still being compensated.
func (e *Engine) hydrate(ctx context.Context, scopeHash, id string) (*record.MemoryRecord, error) {
	docs, err := e.ports.Vector.Get(ctx, scopeHash, []string{id})
	if err == nil && len(docs) > 0 {
		return docs[0].Record, nil
	}

	blob, ok, cacheErr := e.ports.Cache.Get(ctx, scope.IDKey(scopeHash, id))
	if cacheErr == nil && ok {
		var rec record.MemoryRecord
		if jsonErr := json.Unmarshal(blob, &rec); jsonErr == nil {
			return &rec, nil
		}
	}

	if err != nil {
		return nil, err
	}
	return nil, nil
}

// cacheRecord stores the record under its ID key so reads survive a
// degraded vector leg. TTL is generous; writes refresh it.
func (e *Engine) cacheRecord(ctx context.Context, scopeHash string, rec *record.MemoryRecord) {
	blob, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := e.ports.Cache.Set(ctx, scope.IDKey(scopeHash, rec.ID), blob, 24*time.Hour); err != nil {
		e.logger.Debug("record cache set failed", zap.String("id", rec.ID), zap.Error(err))
	}
}

