package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/graph"
	"github.com/papercomputeco/engram/pkg/record"
)

func engineCategory(c string) record.Category {
	return record.Category(c)
}

// AuditInput represents the input for the quality audit tool.
type AuditInput struct {
	ScopeInput
}

// AuditOutput carries the per-scope quality reports.
type AuditOutput struct {
	Reports []*engine.QualityReport `json:"reports"`
}

func (s *Server) handleAudit(ctx context.Context, _ *mcp.CallToolRequest, input AuditInput) (*mcp.CallToolResult, AuditOutput, error) {
	sc := input.scope()
	reports, err := s.config.Engine.AuditQuality(ctx, engine.AuditRequest{Scope: &sc})
	if err != nil {
		return toolError(err), AuditOutput{}, nil
	}

	output := AuditOutput{Reports: reports}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), AuditOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

// ProjectInput addresses a project within a scope.
type ProjectInput struct {
	ScopeInput
	ProjectID string `json:"project_id,omitempty" jsonschema:"project identifier; defaults to the scope's project"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum timeline entries, 0 for all"`
}

// ProjectStateOutput is the current-state rollup.
type ProjectStateOutput struct {
	State *engine.ProjectState `json:"state"`
}

func (s *Server) handleProjectState(ctx context.Context, _ *mcp.CallToolRequest, input ProjectInput) (*mcp.CallToolResult, ProjectStateOutput, error) {
	state, err := s.config.Engine.GetProjectState(ctx, input.scope(), input.ProjectID)
	if err != nil {
		return toolError(err), ProjectStateOutput{}, nil
	}

	output := ProjectStateOutput{State: state}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), ProjectStateOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

// TimelineOutput is the evolution timeline.
type TimelineOutput struct {
	Timeline *engine.Timeline `json:"timeline"`
}

func (s *Server) handleTrackEvolution(ctx context.Context, _ *mcp.CallToolRequest, input ProjectInput) (*mcp.CallToolResult, TimelineOutput, error) {
	timeline, err := s.config.Engine.TrackEvolution(ctx, input.scope(), input.ProjectID, input.Limit)
	if err != nil {
		return toolError(err), TimelineOutput{}, nil
	}

	output := TimelineOutput{Timeline: timeline}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), TimelineOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

// EntityInput asks about one entity in the knowledge graph.
type EntityInput struct {
	ScopeInput
	Entity string `json:"entity" jsonschema:"entity name to look up"`
}

// EntityOutput summarizes the entity's graph position.
type EntityOutput struct {
	Relationships *graph.EntityRelationships `json:"relationships"`
}

func (s *Server) handleEntityRelationships(ctx context.Context, _ *mcp.CallToolRequest, input EntityInput) (*mcp.CallToolResult, EntityOutput, error) {
	rels, err := s.config.Engine.GetEntityRelationships(ctx, input.scope(), input.Entity)
	if err != nil {
		return toolError(err), EntityOutput{}, nil
	}

	output := EntityOutput{Relationships: rels}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), EntityOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

// GraphStatusInput has no arguments.
type GraphStatusInput struct{}

// GraphStatusOutput reports backend capability flags.
type GraphStatusOutput struct {
	Capabilities engine.Capabilities `json:"capabilities"`
}

func (s *Server) handleGraphStatus(_ context.Context, _ *mcp.CallToolRequest, _ GraphStatusInput) (*mcp.CallToolResult, GraphStatusOutput, error) {
	output := GraphStatusOutput{Capabilities: s.config.Engine.Capabilities()}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), GraphStatusOutput{}, nil
	}
	return toolJSON(raw), output, nil
}
