// Package api exposes the memory engine's operations over HTTP. It is a
// thin request router: every operation, its validation, and its semantics
// live in pkg/engine.
package api

import (
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/engine"
)

// Server is the API server for the engram memory system.
type Server struct {
	config Config
	engine *engine.Engine
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server over an injected engine. When a
// non-nil MCP server is given, its streamable HTTP handler is mounted at
// /mcp.
func NewServer(config Config, eng *engine.Engine, mcpServer *mcp.Server, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		engine: eng,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/memory/save", s.handleSave)
	v1.Post("/memory/save_verified", s.handleSaveVerified)
	v1.Post("/memory/milestone", s.handleSaveMilestone)
	v1.Post("/memory/search", s.handleSearch)
	v1.Post("/memory/context", s.handleGetContext)
	v1.Post("/memory/all", s.handleGetAll)
	v1.Post("/memory/get", s.handleGet)
	v1.Post("/memory/resolve_conflict", s.handleResolveConflict)
	v1.Post("/quality/audit", s.handleAuditQuality)
	v1.Post("/project/validate", s.handleValidateProject)
	v1.Post("/project/state", s.handleProjectState)
	v1.Post("/project/evolution", s.handleTrackEvolution)
	v1.Post("/graph/entity", s.handleEntityRelationships)
	v1.Get("/graph/status", s.handleGraphStatus)

	if mcpServer != nil {
		app.All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))
	}

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retriable bool   `json:"retriable,omitempty"`
	ID        string `json:"id,omitempty"`
	ScopeHash string `json:"scope_hash,omitempty"`
}

// fail maps an engine error to an HTTP response with a stable kind.
func fail(c *fiber.Ctx, err error) error {
	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: err.Error(),
			Kind:  string(engine.KindInternal),
		})
	}

	status := fiber.StatusInternalServerError
	switch engineErr.Kind {
	case engine.KindInvalidInput:
		status = fiber.StatusBadRequest
	case engine.KindNotFound:
		status = fiber.StatusNotFound
	case engine.KindContended, engine.KindConflictUnresolved:
		status = fiber.StatusConflict
	case engine.KindTimeout:
		status = fiber.StatusGatewayTimeout
	case engine.KindEmbedderUnavailable, engine.KindExtractorUnavailable,
		engine.KindVectorUnavailable, engine.KindGraphUnavailable,
		engine.KindLockUnavailable:
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(ErrorResponse{
		Error:     engineErr.Error(),
		Kind:      string(engineErr.Kind),
		Retriable: engineErr.Retriable(),
		ID:        engineErr.ID,
		ScopeHash: engineErr.ScopeHash,
	})
}
