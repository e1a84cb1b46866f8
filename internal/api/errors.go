package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/connections"
)

// writeError maps a service error onto an HTTP status. Storage and internal
// failures are logged in full and answered with a generic message.
func writeError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	code, msg := fiber.StatusInternalServerError, "internal server error"

	switch {
	case errors.Is(err, connections.ErrInvalidInput), errors.Is(err, connections.ErrMalformedIdentifier):
		code, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, connections.ErrForbidden):
		code, msg = fiber.StatusForbidden, "access denied"
	case errors.Is(err, connections.ErrNotFound):
		code, msg = fiber.StatusNotFound, "connection not found"
	case errors.Is(err, connections.ErrBackendDisabled):
		code, msg = fiber.StatusServiceUnavailable, "secret backend integration is not enabled"
	default:
		logger.Error("api."+op+".failed",
			zap.String("request_id", requestID(c)),
			zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
