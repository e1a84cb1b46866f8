package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/connections"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// ConnectionService defines the connection operations used by the handler.
type ConnectionService interface {
	Create(ctx context.Context, actor model.Actor, ownerUserID, keyName, value string, scope model.Scope) (model.AgentConnection, error)
	Read(ctx context.Context, actor model.Actor, keyID string) (model.AgentConnection, error)
	Update(ctx context.Context, actor model.Actor, keyID string, patch connections.Patch) (model.AgentConnection, error)
	Delete(ctx context.Context, actor model.Actor, keyID string) error
	List(ctx context.Context, actor model.Actor, ownerUserID string, filter *connections.Filter) ([]model.AgentConnection, error)
	ListAll(ctx context.Context, actor model.Actor) ([]model.OwnedConnection, error)
	Status(ctx context.Context) connections.Status
	FilterCaseMode() string
}

// ConnectionsHandler handles HTTP API requests for agent connections.
type ConnectionsHandler struct {
	logger  *zap.Logger
	service ConnectionService
}

// NewConnectionsHandler creates a new ConnectionsHandler.
func NewConnectionsHandler(logger *zap.Logger, service ConnectionService) *ConnectionsHandler {
	return &ConnectionsHandler{logger: logger, service: service}
}

// Create handles POST /. The owner is the caller unless X-Acting-As-User names another user.
func (h *ConnectionsHandler) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	agentID := ""
	if req.AgentID != nil {
		agentID = *req.AgentID
	}
	actor := actorFrom(c)
	conn, err := h.service.Create(c.Context(), actor, actingAs(c), req.KeyName, req.KeyValue, model.ScopeOf(agentID, req.IsCommon))
	if err != nil {
		return writeError(c, h.logger, "create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(toAck(conn))
}

// List handles GET /, honouring X-Acting-As-User and X-Requested-Connections.
func (h *ConnectionsHandler) List(c *fiber.Ctx) error {
	filter := connections.ParseFilter(c.Get(HeaderRequestedConnections), h.service.FilterCaseMode())

	conns, err := h.service.List(c.Context(), actorFrom(c), actingAs(c), filter)
	if err != nil {
		return writeError(c, h.logger, "list", err)
	}

	out := make([]ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toResponse(conn))
	}
	return c.JSON(out)
}

// ListAll handles GET /admin/all.
func (h *ConnectionsHandler) ListAll(c *fiber.Ctx) error {
	conns, err := h.service.ListAll(c.Context(), actorFrom(c))
	if err != nil {
		return writeError(c, h.logger, "list_all", err)
	}

	out := make([]OwnedConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toOwnedResponse(conn))
	}
	return c.JSON(out)
}

// Status handles GET /status.
func (h *ConnectionsHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.service.Status(c.Context()))
}

// Get handles GET /:key_id.
func (h *ConnectionsHandler) Get(c *fiber.Ctx) error {
	conn, err := h.service.Read(c.Context(), actorFrom(c), keyIDParam(c))
	if err != nil {
		return writeError(c, h.logger, "read", err)
	}
	return c.JSON(toResponse(conn))
}

// Update handles PUT /:key_id.
func (h *ConnectionsHandler) Update(c *fiber.Ctx) error {
	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	patch := connections.Patch{
		KeyName:  req.KeyName,
		Value:    req.KeyValue,
		AgentID:  req.AgentID,
		IsCommon: req.IsCommon,
	}
	conn, err := h.service.Update(c.Context(), actorFrom(c), keyIDParam(c), patch)
	if err != nil {
		return writeError(c, h.logger, "update", err)
	}
	return c.JSON(toAck(conn))
}

// Delete handles DELETE /:key_id.
func (h *ConnectionsHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), actorFrom(c), keyIDParam(c)); err != nil {
		return writeError(c, h.logger, "delete", err)
	}
	return c.JSON(StatusResponse{Status: statusSuccess})
}

func actingAs(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(HeaderActingAsUser))
}

// keyIDParam returns the unescaped :key_id segment; ids may contain spaces or colons.
func keyIDParam(c *fiber.Ctx) string {
	raw := c.Params("key_id")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}
