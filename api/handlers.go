package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/scope"
)

// SaveRequest is the JSON body for the save endpoints.
type SaveRequest struct {
	scope.Scope
	Content       string            `json:"content"`
	Category      string            `json:"category"`
	Confidence    *int              `json:"confidence,omitempty"`
	Source        string            `json:"source,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Extra         map[string]string `json:"extra_metadata,omitempty"`
	MilestoneType string            `json:"milestone_type,omitempty"`
	ImpactLevel   int               `json:"impact_level,omitempty"`
}

func (r SaveRequest) toEngine() engine.SaveRequest {
	category := record.Category(r.Category)
	if category == "" {
		category = record.CategoryGeneric
	}
	return engine.SaveRequest{
		Scope:         r.Scope,
		Content:       r.Content,
		Category:      category,
		Confidence:    r.Confidence,
		Source:        r.Source,
		Tags:          r.Tags,
		ExpiresAt:     r.ExpiresAt,
		Extra:         r.Extra,
		MilestoneType: record.MilestoneType(r.MilestoneType),
		ImpactLevel:   r.ImpactLevel,
	}
}

// SearchRequest is the JSON body for search and context endpoints.
type SearchRequest struct {
	scope.Scope
	Query  string              `json:"query"`
	K      int                 `json:"k,omitempty"`
	Filter engine.SearchFilter `json:"filter,omitempty"`
}

func (r SearchRequest) toEngine() engine.SearchRequest {
	return engine.SearchRequest{
		Scope:  r.Scope,
		Query:  r.Query,
		K:      r.K,
		Filter: r.Filter,
	}
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleSave(c *fiber.Ctx) error {
	var req SaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.engine.Save(c.Context(), req.toEngine())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleSaveVerified(c *fiber.Ctx) error {
	var req SaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.engine.SaveVerified(c.Context(), req.toEngine())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result)
}

func (s *Server) handleSaveMilestone(c *fiber.Ctx) error {
	var req SaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.engine.SaveMilestone(c.Context(), req.toEngine())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(result.Record)
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	resp, err := s.engine.Search(c.Context(), req.toEngine())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

func (s *Server) handleGetContext(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	resp, err := s.engine.GetContext(c.Context(), req.toEngine())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

// GetAllRequest pages through a scope.
type GetAllRequest struct {
	scope.Scope
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) handleGetAll(c *fiber.Ctx) error {
	var req GetAllRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	resp, err := s.engine.GetAll(c.Context(), req.Scope, req.Cursor, req.Limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(resp)
}

// GetRequest fetches one record by ID.
type GetRequest struct {
	scope.Scope
	ID string `json:"id"`
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	var req GetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	rec, err := s.engine.Get(c.Context(), req.Scope, req.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rec)
}

// ResolveRequest is the JSON body for conflict resolution.
type ResolveRequest struct {
	scope.Scope
	ConflictingIDs []string `json:"conflicting_ids"`
	CorrectContent string   `json:"correct_content"`
	Reason         string   `json:"reason,omitempty"`
}

func (s *Server) handleResolveConflict(c *fiber.Ctx) error {
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	rec, err := s.engine.ResolveConflict(c.Context(), engine.ResolveRequest{
		Scope:          req.Scope,
		ConflictingIDs: req.ConflictingIDs,
		CorrectContent: req.CorrectContent,
		Reason:         req.Reason,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rec)
}

// AuditRequest audits one scope or, with an operator, every known scope.
type AuditRequest struct {
	Scope    *scope.Scope `json:"scope,omitempty"`
	Operator string       `json:"operator,omitempty"`
}

func (s *Server) handleAuditQuality(c *fiber.Ctx) error {
	var req AuditRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	reports, err := s.engine.AuditQuality(c.Context(), engine.AuditRequest{
		Scope:    req.Scope,
		Operator: req.Operator,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(reports)
}

// ProjectRequest addresses a project within a scope.
type ProjectRequest struct {
	scope.Scope
	ProjectID string `json:"project_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) handleValidateProject(c *fiber.Ctx) error {
	var req ProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	report, err := s.engine.ValidateProject(c.Context(), req.Scope, req.ProjectID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(report)
}

func (s *Server) handleProjectState(c *fiber.Ctx) error {
	var req ProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	state, err := s.engine.GetProjectState(c.Context(), req.Scope, req.ProjectID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(state)
}

func (s *Server) handleTrackEvolution(c *fiber.Ctx) error {
	var req ProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	timeline, err := s.engine.TrackEvolution(c.Context(), req.Scope, req.ProjectID, req.Limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(timeline)
}

// EntityRequest asks about one entity in the knowledge graph.
type EntityRequest struct {
	scope.Scope
	Entity string `json:"entity"`
}

func (s *Server) handleEntityRelationships(c *fiber.Ctx) error {
	var req EntityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	rels, err := s.engine.GetEntityRelationships(c.Context(), req.Scope, req.Entity)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rels)
}

func (s *Server) handleGraphStatus(c *fiber.Ctx) error {
	return c.JSON(s.engine.Capabilities())
}
