// Package record defines the memory record model: the atomic unit persisted
// across the vector index and the knowledge graph, its categories, statuses,
// and lifecycle invariants.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/engram/pkg/scope"
)

// Category classifies a memory and drives confidence and expiry defaults.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryProblem      Category = "problem"
	CategorySolution     Category = "solution"
	CategoryStatus       Category = "status"
	CategoryDecision     Category = "decision"
	CategoryMilestone    Category = "milestone"
	CategoryGeneric      Category = "generic"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusConflicted Status = "conflicted"
	StatusExpired    Status = "expired"
)

// MilestoneType is the typed kind carried by milestone records.
type MilestoneType string

const (
	MilestoneArchitectureDecision MilestoneType = "architecture_decision"
	MilestoneProblemIdentified    MilestoneType = "problem_identified"
	MilestoneSolutionImplemented  MilestoneType = "solution_implemented"
	MilestoneStatusChange         MilestoneType = "status_change"
)

var (
	// ErrInvalidCategory is returned for categories outside the known set.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidConfidence is returned when confidence is outside 1..10.
	ErrInvalidConfidence = errors.New("confidence must be between 1 and 10")

	// ErrInvalidMilestone is returned for bad milestone type or impact level.
	ErrInvalidMilestone = errors.New("invalid milestone")

	// ErrEmptyContent is returned when content is blank.
	ErrEmptyContent = errors.New("content is empty")

	// ErrSupersessionCycle is returned when a supersession chain loops.
	ErrSupersessionCycle = errors.New("supersession chain is cyclic")
)

// Relation is an extracted (source, relation, target) triple. Relations
// belong to their owning record and have no independent write identity.
type Relation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// MemoryRecord is the atomic memory unit. Content is immutable once
// written; updates are modeled as new records that deprecate predecessors.
type MemoryRecord struct {
	ID           string            `json:"id"`
	Scope        scope.Scope       `json:"scope"`
	Content      string            `json:"content"`
	EmbeddingRef string            `json:"embedding_ref,omitempty"`
	Entities     []string          `json:"entities,omitempty"`
	Relations    []Relation        `json:"relations,omitempty"`
	Category     Category          `json:"category"`
	Confidence   int               `json:"confidence"`
	Source       string            `json:"source,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Version      int               `json:"version"`
	Status       Status            `json:"status"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	ConflictWith []string          `json:"conflict_with,omitempty"`
	Extra        map[string]string `json:"extra_metadata,omitempty"`

	// Milestone-only fields; zero for other categories.
	MilestoneType MilestoneType `json:"milestone_type,omitempty"`
	ImpactLevel   int           `json:"impact_level,omitempty"`
}

// categoryDefault holds the per-category confidence and TTL defaults.
type categoryDefault struct {
	confidence int
	ttl        time.Duration // 0 = no expiry
}

const day = 24 * time.Hour

var categoryDefaults = map[Category]categoryDefault{
	CategoryArchitecture: {confidence: 8, ttl: 180 * day},
	CategoryDecision:     {confidence: 8, ttl: 365 * day},
	CategorySolution:     {confidence: 7, ttl: 120 * day},
	CategoryProblem:      {confidence: 6, ttl: 90 * day},
	CategoryStatus:       {confidence: 6, ttl: 30 * day},
	CategoryMilestone:    {confidence: 9, ttl: 0},
	CategoryGeneric:      {confidence: 5, ttl: 0},
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	_, ok := categoryDefaults[c]
	return ok
}

// DefaultConfidence returns the confidence default for a category.
func DefaultConfidence(c Category) int {
	return categoryDefaults[c].confidence
}

// DefaultExpiry returns the default expiry for a category relative to now,
// or nil for categories that never expire.
func DefaultExpiry(c Category, now time.Time) *time.Time {
	ttl := categoryDefaults[c].ttl
	if ttl == 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

// ValidateConfidence rejects confidence values outside 1..10. Callers
// resolve an absent confidence to the category default before or instead
// of validating.
func ValidateConfidence(confidence int) error {
	if confidence < 1 || confidence > 10 {
		return fmt.Errorf("%w: got %d", ErrInvalidConfidence, confidence)
	}
	return nil
}

// ValidateMilestone checks the milestone type and impact level.
func ValidateMilestone(mt MilestoneType, impact int) error {
	switch mt {
	case MilestoneArchitectureDecision, MilestoneProblemIdentified,
		MilestoneSolutionImplemented, MilestoneStatusChange:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMilestone, mt)
	}
	if impact < 1 || impact > 10 {
		return fmt.Errorf("%w: impact level %d outside 1..10", ErrInvalidMilestone, impact)
	}
	return nil
}

// Expired reports whether the record's expiry has passed at the given time.
func (r *MemoryRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// HasTag reports whether the record carries the given tag.
func (r *MemoryRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that callers can mutate status fields without
// aliasing cached or stored state.
func (r *MemoryRecord) Clone() *MemoryRecord {
	out := *r
	out.Entities = append([]string(nil), r.Entities...)
	out.Relations = append([]Relation(nil), r.Relations...)
	out.Tags = append([]string(nil), r.Tags...)
	out.ConflictWith = append([]string(nil), r.ConflictWith...)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// WalkSupersession follows the superseded_by chain starting at id using the
// provided lookup, returning the chain (excluding the start) or
// ErrSupersessionCycle if a node repeats. A record never cites itself.
func WalkSupersession(id string, lookup func(string) (*MemoryRecord, bool)) ([]string, error) {
	seen := map[string]bool{id: true}
	var chain []string
	cur := id
	for {
		rec, ok := lookup(cur)
		if !ok || rec.SupersededBy == "" {
			return chain, nil
		}
		next := rec.SupersededBy
		if seen[next] {
			return chain, fmt.Errorf("%w: %s revisits %s", ErrSupersessionCycle, id, next)
		}
		seen[next] = true
		chain = append(chain, next)
		cur = next
	}
}
