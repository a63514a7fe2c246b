package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/record"
)

// SaveMemoryInput represents the input arguments for the save tools.
type SaveMemoryInput struct {
	ScopeInput
	Content    string            `json:"content" jsonschema:"the memory text to store"`
	Category   string            `json:"category,omitempty" jsonschema:"memory category: architecture, problem, solution, status, decision, milestone, or generic"`
	Confidence *int              `json:"confidence,omitempty" jsonschema:"confidence from 1 to 10; defaults per category"`
	Source     string            `json:"source,omitempty" jsonschema:"provenance of the memory, e.g. code_review or issue_123"`
	Tags       []string          `json:"tags,omitempty" jsonschema:"free-form tags"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty" jsonschema:"optional explicit expiry timestamp"`
	Extra      map[string]string `json:"extra_metadata,omitempty" jsonschema:"open-ended string metadata"`
}

func (in SaveMemoryInput) request() engine.SaveRequest {
	category := record.Category(in.Category)
	if category == "" {
		category = record.CategoryGeneric
	}
	return engine.SaveRequest{
		Scope:      in.scope(),
		Content:    in.Content,
		Category:   category,
		Confidence: in.Confidence,
		Source:     in.Source,
		Tags:       in.Tags,
		ExpiresAt:  in.ExpiresAt,
		Extra:      in.Extra,
	}
}

// SaveMemoryOutput is the structured result of a save.
type SaveMemoryOutput struct {
	ID        string               `json:"id"`
	Created   bool                 `json:"created"`
	Status    string               `json:"status"`
	Conflicts []engine.ConflictRef `json:"conflicts,omitempty"`
	Degraded  bool                 `json:"degraded"`
}

func saveOutput(result *engine.SaveResult) SaveMemoryOutput {
	return SaveMemoryOutput{
		ID:        result.ID,
		Created:   result.Created,
		Status:    string(result.Status),
		Conflicts: result.Conflicts,
		Degraded:  result.Degraded,
	}
}

func (s *Server) handleSaveMemory(ctx context.Context, _ *mcp.CallToolRequest, input SaveMemoryInput) (*mcp.CallToolResult, SaveMemoryOutput, error) {
	result, err := s.config.Engine.Save(ctx, input.request())
	if err != nil {
		return toolError(err), SaveMemoryOutput{}, nil
	}

	output := saveOutput(result)
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), SaveMemoryOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

func (s *Server) handleSaveVerified(ctx context.Context, _ *mcp.CallToolRequest, input SaveMemoryInput) (*mcp.CallToolResult, SaveMemoryOutput, error) {
	result, err := s.config.Engine.SaveVerified(ctx, input.request())
	if err != nil {
		return toolError(err), SaveMemoryOutput{}, nil
	}

	output := saveOutput(result)
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), SaveMemoryOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

// SaveMilestoneInput represents the input for the milestone tool.
type SaveMilestoneInput struct {
	ScopeInput
	Content       string   `json:"content" jsonschema:"what was decided, found, implemented, or changed"`
	MilestoneType string   `json:"milestone_type" jsonschema:"architecture_decision, problem_identified, solution_implemented, or status_change"`
	ImpactLevel   int      `json:"impact_level" jsonschema:"impact from 1 to 10"`
	Tags          []string `json:"tags,omitempty" jsonschema:"free-form tags"`
}

// SaveMilestoneOutput is the stored milestone record.
type SaveMilestoneOutput struct {
	Record *record.MemoryRecord `json:"record"`
}

func (s *Server) handleSaveMilestone(ctx context.Context, _ *mcp.CallToolRequest, input SaveMilestoneInput) (*mcp.CallToolResult, SaveMilestoneOutput, error) {
	result, err := s.config.Engine.SaveMilestone(ctx, engine.SaveRequest{
		Scope:         input.scope(),
		Content:       input.Content,
		MilestoneType: record.MilestoneType(input.MilestoneType),
		ImpactLevel:   input.ImpactLevel,
		Tags:          input.Tags,
	})
	if err != nil {
		return toolError(err), SaveMilestoneOutput{}, nil
	}

	output := SaveMilestoneOutput{Record: result.Record}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), SaveMilestoneOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

// ResolveConflictInput represents the input for conflict resolution.
type ResolveConflictInput struct {
	ScopeInput
	ConflictingIDs []string `json:"conflicting_ids" jsonschema:"ids of the contradicting memories"`
	CorrectContent string   `json:"correct_content" jsonschema:"the consolidated correct statement"`
	Reason         string   `json:"reason,omitempty" jsonschema:"why this resolution is correct"`
}

// ResolveConflictOutput is the consolidated successor record.
type ResolveConflictOutput struct {
	Record *record.MemoryRecord `json:"record"`
}

func (s *Server) handleResolveConflict(ctx context.Context, _ *mcp.CallToolRequest, input ResolveConflictInput) (*mcp.CallToolResult, ResolveConflictOutput, error) {
	rec, err := s.config.Engine.ResolveConflict(ctx, engine.ResolveRequest{
		Scope:          input.scope(),
		ConflictingIDs: input.ConflictingIDs,
		CorrectContent: input.CorrectContent,
		Reason:         input.Reason,
	})
	if err != nil {
		return toolError(err), ResolveConflictOutput{}, nil
	}

	output := ResolveConflictOutput{Record: rec}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), ResolveConflictOutput{}, nil
	}
	return toolJSON(raw), output, nil
}
