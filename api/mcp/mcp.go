// Package mcp provides an MCP (Model Context Protocol) server for the
// engram memory system. Agents save and recall memories through these
// tools; the engine behind them is shared with the REST API.
package mcp

import (
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/scope"
	"github.com/papercomputeco/engram/pkg/utils"
)

type Config struct {
	// Engine is the memory orchestration core the tools call into.
	Engine *engine.Engine

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured zap logger
	Logger *zap.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// ScopeInput is the scope fields every tool call carries.
type ScopeInput struct {
	Tenant  string `json:"tenant" jsonschema:"tenant the memory belongs to"`
	User    string `json:"user" jsonschema:"user the memory belongs to"`
	Agent   string `json:"agent,omitempty" jsonschema:"optional agent id narrowing the scope"`
	Session string `json:"session,omitempty" jsonschema:"optional session id narrowing the scope"`
	Project string `json:"project,omitempty" jsonschema:"optional project id narrowing the scope"`
}

func (s ScopeInput) scope() scope.Scope {
	return scope.Scope{
		Tenant:  s.Tenant,
		User:    s.User,
		Agent:   s.Agent,
		Session: s.Session,
		Project: s.Project,
	}
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	// Create the MCP server
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "engram",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if c.Noop {
		// return the empty MCP server with no tools configured
		// if the noop flag is set (i.e., MCP capabilities are disabled)
		s.mcpServer = mcpServer
		return s, nil
	}

	if c.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	// Add tools
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "save_memory",
		Description: "Save a memory to the vector index and knowledge graph. Categories: architecture, problem, solution, status, decision, milestone, generic. Returns the record id, whether it was newly created, and any detected conflicts.",
	}, s.handleSaveMemory)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "save_verified_memory",
		Description: "Save a verified memory: requires a source and confidence of at least 7. Use for facts confirmed against code or documentation.",
	}, s.handleSaveVerified)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "save_project_milestone",
		Description: "Record a typed project milestone (architecture_decision, problem_identified, solution_implemented, status_change) with an impact level from 1 to 10.",
	}, s.handleSaveMilestone)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "search_memories",
		Description: "Hybrid search over stored memories: vector similarity merged with knowledge-graph traversal, ranked by combined score.",
	}, s.handleSearch)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_accurate_context",
		Description: "Retrieve high-confidence active memories for a query. Deprecated, expired, and conflicted memories are excluded.",
	}, s.handleGetContext)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "resolve_context_conflict",
		Description: "Resolve contradicting memories: writes a consolidated replacement and deprecates the originals.",
	}, s.handleResolveConflict)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "audit_memory_quality",
		Description: "Audit memory quality for a scope: counts by status and category, average confidence, quality score, and recommendations.",
	}, s.handleAudit)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_current_project_state",
		Description: "Summarize a project's current state: recent milestones, the latest status record, and a derived phase.",
	}, s.handleProjectState)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "track_project_evolution",
		Description: "Return the full project timeline including deprecated and expired memories, with supersession links.",
	}, s.handleTrackEvolution)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_entity_relationships",
		Description: "Summarize a knowledge-graph entity: direct mentions, related entities, relationship types, and connection strength.",
	}, s.handleEntityRelationships)
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "graph_status",
		Description: "Report backend capability flags: vector and graph availability, cache distribution, event durability.",
	}, s.handleGraphStatus)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// toolError renders an engine failure as an MCP error result.
func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}
}

// toolJSON renders a payload as an MCP text result.
func toolJSON(raw []byte) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(raw)},
		},
	}
}
