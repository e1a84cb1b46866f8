package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// Identity headers set by the trusted gateway in front of the service.
const (
	HeaderUserID               = "X-User-Id"
	HeaderUserRole             = "X-User-Role"
	HeaderIdentitySignature    = "X-Identity-Signature"
	HeaderActingAsUser         = "X-Acting-As-User"
	HeaderRequestedConnections = "X-Requested-Connections"
)

const actorLocal = "actor"

// SignIdentity returns the hex HMAC-SHA256 of "userID\nrole" under secret.
func SignIdentity(secret, userID, role string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + "\n" + role))
	return hex.EncodeToString(mac.Sum(nil))
}

// Identity resolves the calling actor from the gateway headers and rejects
// requests without one. When secret is non-empty the headers must carry a
// matching X-Identity-Signature.
func Identity(secret string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		role := strings.TrimSpace(c.Get(HeaderUserRole))
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user identity"})
		}

		if secret != "" {
			want := SignIdentity(secret, userID, role)
			got := strings.ToLower(strings.TrimSpace(c.Get(HeaderIdentitySignature)))
			if !hmac.Equal([]byte(want), []byte(got)) {
				logger.Warn("api.identity.bad_signature",
					zap.String("user", userID),
					zap.String("path", c.Path()))
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid identity signature"})
			}
		}

		c.Locals(actorLocal, model.Actor{ID: userID, Role: role})
		return c.Next()
	}
}

// actorFrom returns the actor stored by Identity.
func actorFrom(c *fiber.Ctx) model.Actor {
	actor, _ := c.Locals(actorLocal).(model.Actor)
	return actor
}
