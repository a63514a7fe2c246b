package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/engram/pkg/engine"
)

// SearchInput represents the input arguments for the search tools.
type SearchInput struct {
	ScopeInput
	Query         string `json:"query" jsonschema:"what to recall"`
	TopK          int    `json:"top_k,omitempty" jsonschema:"maximum results to return, default 5"`
	Category      string `json:"category,omitempty" jsonschema:"restrict to one category"`
	Tag           string `json:"tag,omitempty" jsonschema:"restrict to one tag"`
	MinConfidence int    `json:"min_confidence,omitempty" jsonschema:"drop results below this confidence"`
}

func (in SearchInput) request() engine.SearchRequest {
	return engine.SearchRequest{
		Scope: in.scope(),
		Query: in.Query,
		K:     in.TopK,
		Filter: engine.SearchFilter{
			Category:      engineCategory(in.Category),
			Tag:           in.Tag,
			MinConfidence: in.MinConfidence,
		},
	}
}

// SearchOutput represents the output of a search operation.
type SearchOutput struct {
	Query    string                `json:"query"`
	Results  []engine.ScoredMemory `json:"results"`
	Count    int                   `json:"count"`
	Degraded bool                  `json:"degraded,omitempty"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	resp, err := s.config.Engine.Search(ctx, input.request())
	if err != nil {
		return toolError(err), SearchOutput{}, nil
	}

	output := SearchOutput{
		Query:    input.Query,
		Results:  resp.Results,
		Count:    len(resp.Results),
		Degraded: resp.Degraded,
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), SearchOutput{}, nil
	}
	return toolJSON(raw), output, nil
}

func (s *Server) handleGetContext(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	resp, err := s.config.Engine.GetContext(ctx, input.request())
	if err != nil {
		return toolError(err), SearchOutput{}, nil
	}

	output := SearchOutput{
		Query:    input.Query,
		Results:  resp.Results,
		Count:    len(resp.Results),
		Degraded: resp.Degraded,
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return toolError(err), SearchOutput{}, nil
	}
	return toolJSON(raw), output, nil
}
