package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
	"github.com/papercomputeco/engram/pkg/vector"
)

// projectStateMilestones is how many recent milestones a state rollup shows.
const projectStateMilestones = 5

// ProjectState is the current-state rollup for a project scope.
type ProjectState struct {
	ProjectID    string                 `json:"project_id"`
	Phase        string                 `json:"phase"`
	Milestones   []*record.MemoryRecord `json:"milestones"`
	LatestStatus *record.MemoryRecord   `json:"latest_status,omitempty"`
}

// TimelineEdge is a supersession link inside an evolution timeline.
type TimelineEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Timeline is the full project evolution, history included.
type Timeline struct {
	ProjectID string                 `json:"project_id"`
	Entries   []*record.MemoryRecord `json:"entries"`
	Edges     []TimelineEdge         `json:"edges,omitempty"`
}

// GetProjectState returns the last milestones, the most recent status
// record, and a phase derived from milestone count.
func (e *Engine) GetProjectState(ctx context.Context, s scope.Scope, projectID string) (*ProjectState, error) {
	if strings.TrimSpace(projectID) != "" {
		s.Project = projectID
	}
	if err := s.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}

	records, err := e.listScope(ctx, s.Hash(), vector.Filter{})
	if err != nil {
		return nil, err
	}

	var milestones []*record.MemoryRecord
	var latestStatus *record.MemoryRecord
	for _, rec := range records {
		switch {
		case rec.Category == record.CategoryMilestone && (rec.Status == record.StatusActive || rec.Status == record.StatusConflicted):
			milestones = append(milestones, rec)
		case rec.Category == record.CategoryStatus && (rec.Status == record.StatusActive || rec.Status == record.StatusConflicted):
			if latestStatus == nil || rec.CreatedAt.After(latestStatus.CreatedAt) {
				latestStatus = rec
			}
		}
	}

	sort.Slice(milestones, func(i, j int) bool {
		if !milestones[i].CreatedAt.Equal(milestones[j].CreatedAt) {
			return milestones[i].CreatedAt.After(milestones[j].CreatedAt)
		}
		return milestones[i].ID < milestones[j].ID
	})

	phase := derivePhase(len(milestones))
	if len(milestones) > projectStateMilestones {
		milestones = milestones[:projectStateMilestones]
	}

	return &ProjectState{
		ProjectID:    s.Project,
		Phase:        phase,
		Milestones:   milestones,
		LatestStatus: latestStatus,
	}, nil
}

// TrackEvolution returns the project timeline ordered by creation time,
// deprecated and expired records included, with supersession edges.
func (e *Engine) TrackEvolution(ctx context.Context, s scope.Scope, projectID string, limit int) (*Timeline, error) {
	if strings.TrimSpace(projectID) != "" {
		s.Project = projectID
	}
	if err := s.Validate(); err != nil {
		return nil, wrapError(KindInvalidInput, "incomplete scope", err)
	}

	records, err := e.listScope(ctx, s.Hash(), vector.Filter{})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	var edges []TimelineEdge
	for _, rec := range records {
		if rec.SupersededBy != "" {
			edges = append(edges, TimelineEdge{From: rec.ID, To: rec.SupersededBy})
		}
	}

	return &Timeline{
		ProjectID: s.Project,
		Entries:   records,
		Edges:     edges,
	}, nil
}

// listScope loads every record in a scope, paging through the vector store.
func (e *Engine) listScope(ctx context.Context, scopeHash string, f vector.Filter) ([]*record.MemoryRecord, error) {
	var out []*record.MemoryRecord
	cursor := ""
	for {
		docs, next, err := e.ports.Vector.List(ctx, scopeHash, cursor, 200, f)
		if err != nil {
			return nil, wrapError(KindVectorUnavailable, "enumerating scope", err)
		}
		for _, doc := range docs {
			out = append(out, doc.Record)
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// derivePhase maps milestone count to a project phase.
func derivePhase(milestones int) string {
	switch {
	case milestones == 0:
		return "planning"
	case milestones <= 2:
		return "in_progress"
	case milestones < 5:
		return "advanced"
	default:
		return "mature"
	}
}
